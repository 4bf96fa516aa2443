package crdt

import (
	"context"
	"errors"

	"github.com/otwiki/collab/pkg/store"
)

// ErrNoContent is returned by Commit when a session has never received an
// update to checkpoint.
var ErrNoContent = errors.New("crdt: session has no checkpointed content to commit")

// Committer implements C7's commit half: it forces a checkpoint,
// materializes it, and promotes the result into a durable Revision and Page
// update. Commit is all-or-nothing with respect to visible state: the
// Revision and Page update are written through a single RevisionCommitter
// call, so a failure never leaves one written without the other.
type Committer struct {
	log          *Log
	checkpointer *Checkpointer
	store        store.RevisionCommitter
	activity     store.ActivityLogger
}

// NewCommitter wires the committer to its log, checkpointer, and the
// durable-storage contract from §6. pages must write a Revision and its
// owning Page's update atomically; see store.RevisionCommitter.
func NewCommitter(l *Log, checkpointer *Checkpointer, pages store.RevisionCommitter, activity store.ActivityLogger) *Committer {
	return &Committer{
		log:          l,
		checkpointer: checkpointer,
		store:        pages,
		activity:     activity,
	}
}

// Commit ensures an active session for pageID, forces a checkpoint,
// materializes the result, inserts a Revision, and updates the Page. It
// returns the new revision's id.
func (c *Committer) Commit(ctx context.Context, pageID, userID, message string) (string, error) {
	session := c.log.OpenSession(pageID)

	if _, err := c.checkpointer.ForceCheckpoint(session.SessionID); err != nil {
		return "", err
	}

	session.mu.Lock()
	checkpointBytes := session.CheckpointBytes
	session.mu.Unlock()

	if checkpointBytes == nil {
		return "", ErrNoContent
	}

	decompressed, err := c.checkpointer.DecompressCheckpoint(checkpointBytes)
	if err != nil {
		return "", err
	}

	title, summary, body, format := Materialize(decompressed)

	revisionID, err := c.store.CommitRevision(ctx, pageID,
		store.Revision{
			PageID:            pageID,
			Author:            userID,
			Note:              message,
			Snapshot:          body,
			Format:            format,
			OpaqueUpdateBytes: checkpointBytes,
		},
		store.PageUpdate{
			Title:                title,
			Summary:              summary,
			Body:                 body,
			BodyFormat:           format,
			UpdatedBy:            userID,
			LastCommittedContent: body,
		},
	)
	if err != nil {
		return "", err
	}

	if c.activity != nil {
		c.activity.LogCommit(ctx, userID, pageID, "", title, message)
	}

	return revisionID, nil
}
