package crdt

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/otwiki/collab/pkg/compression"
	"github.com/otwiki/collab/pkg/metrics"
)

// fullStateRecord is the JSON shape the checkpointer currently recognizes as
// a full-content replacement (§4.6, and the CRDT-delta open question in
// §9: this is not a true CRDT delta, it is a full-state snapshot, and the
// checkpointer must keep treating it that way).
type fullStateRecord struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Checkpointer is the background loop from C6: it folds a session's
// updates into checkpointBytes once the session is due, per policy.
type Checkpointer struct {
	log        *Log
	compressor *compression.Compressor
	metrics    *metrics.Collector

	maxUpdates int
	maxAge     time.Duration

	// acceptTrueDeltas gates the feature-flagged true-CRDT-delta path noted
	// as an open question in §9. Off by default: the wire semantics the
	// source actually implements (full-content replacement) are preserved.
	acceptTrueDeltas bool
}

// NewCheckpointer wires the checkpointer to its log and compressor.
// compressor may be nil, in which case checkpointBytes are stored
// uncompressed.
func NewCheckpointer(l *Log, compressor *compression.Compressor, collector *metrics.Collector, maxUpdates int, maxAge time.Duration) *Checkpointer {
	return &Checkpointer{
		log:        l,
		compressor: compressor,
		metrics:    collector,
		maxUpdates: maxUpdates,
		maxAge:     maxAge,
	}
}

// SetAcceptTrueDeltas toggles the feature flag from §9: when enabled, a
// latest update need not be a full_state record to fold -- raw bytes are
// accepted as-is into checkpointBytes, on the assumption the client is
// sending real CRDT deltas the session can merge.
func (c *Checkpointer) SetAcceptTrueDeltas(accept bool) {
	c.acceptTrueDeltas = accept
}

func (c *Checkpointer) due(s *CRDTSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updatesSinceFold >= c.maxUpdates {
		return true
	}
	return time.Since(s.lastCheckpointAt) >= c.maxAge
}

// RunOnce folds sessionID's log into a checkpoint if it is due. It reports
// whether a fold happened. Folding is idempotent: repeated calls with no
// intervening Push produce an equivalent checkpoint, since the selection of
// "latest update" is deterministic.
func (c *Checkpointer) RunOnce(sessionID string) (folded bool, err error) {
	s, ok := c.log.Session(sessionID)
	if !ok {
		return false, nil
	}
	if !c.due(s) {
		return false, nil
	}

	start := time.Now()
	s.mu.Lock()
	latest, hasUpdate := s.latestUpdateLocked()
	s.mu.Unlock()

	if !hasUpdate {
		c.recordSkip(start)
		return false, nil
	}

	raw := latest.UpdateBytes
	if !c.acceptTrueDeltas {
		var record fullStateRecord
		if err := json.Unmarshal(latest.UpdateBytes, &record); err != nil || record.Type != "content_update" || len(record.Content) == 0 {
			log.Printf("crdt: checkpoint skipped for session %s: latest update is not a full-state record", sessionID)
			c.recordSkip(start)
			return false, nil
		}
		// checkpointBytes is the whole validated envelope, not just the
		// content field, per §4.6 ("writes it as the new checkpointBytes").
	}

	bytes := raw
	if c.compressor != nil {
		compressed, err := c.compressor.Compress(raw)
		if err == nil {
			bytes = compressed
		} else {
			log.Printf("crdt: checkpoint compression failed for session %s, storing uncompressed: %v", sessionID, err)
		}
	}

	s.mu.Lock()
	s.CheckpointBytes = bytes
	s.CheckpointVersion = latest.ID
	s.lastCheckpointAt = time.Now()
	s.updatesSinceFold = 0
	s.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCheckpoint(time.Since(start), true)
	}
	return true, nil
}

// ForceCheckpoint folds sessionID's log regardless of the due policy. The
// committer uses this so Commit always has a current checkpoint to
// materialize from, per §4.7 ("force a checkpoint").
func (c *Checkpointer) ForceCheckpoint(sessionID string) (bool, error) {
	s, ok := c.log.Session(sessionID)
	if !ok {
		return false, nil
	}
	s.mu.Lock()
	s.updatesSinceFold = c.maxUpdates // satisfy due() unconditionally
	s.mu.Unlock()
	return c.RunOnce(sessionID)
}

func (c *Checkpointer) recordSkip(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordCheckpoint(time.Since(start), false)
	}
}

// Run sweeps every open session on an interval until ctx is canceled, never
// interrupting mid-write (the sweep only ever checks between sessions).
func (c *Checkpointer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range c.log.Sessions() {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if _, err := c.RunOnce(s.SessionID); err != nil {
					log.Printf("crdt: checkpoint error for session %s: %v", s.SessionID, err)
				}
			}
		}
	}
}

// DecompressCheckpoint reverses the compression RunOnce applied, for the
// materializer's consumption. If no compressor is configured, bytes are
// returned unchanged.
func (c *Checkpointer) DecompressCheckpoint(bytes []byte) ([]byte, error) {
	if c.compressor == nil {
		return bytes, nil
	}
	return c.compressor.Decompress(bytes)
}
