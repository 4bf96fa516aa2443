// Package store hosts the external contracts the collaboration core
// consumes and produces (§6), plus an in-memory reference implementation
// used by the demo binary and the integration tests. A production
// deployment is expected to supply its own PageStore/RevisionStore backed
// by the wiki's real database; ActivityLogger and Authorizer likewise front
// systems explicitly out of scope for this core.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Page is the durable record the collaboration core reads from and writes
// to on commit. Only the fields listed in §3/§6 are modeled here; a real
// Pages table carries slug routing, breadcrumbs, and permissions that stay
// out of scope.
type Page struct {
	ID                    string
	Title                 string
	Summary               string
	Body                  string
	BodyFormat            string
	UpdatedAt             time.Time
	UpdatedBy             string
	LastCommittedAt       time.Time
	LastCommittedContent  string
	HasUncommittedChanges bool
}

// PageUpdate is the field set a Commit writes back to a Page.
type PageUpdate struct {
	Title                string
	Summary              string
	Body                 string
	BodyFormat           string
	UpdatedBy            string
	LastCommittedContent string
}

// Revision is the durable, user-visible snapshot a Commit produces.
type Revision struct {
	ID                string
	PageID            string
	Author            string
	CreatedAt         time.Time
	Note              string
	Snapshot          string
	Format            string
	OpaqueUpdateBytes []byte
}

// PageStore is the page-store contract from §6: read current body for
// session initialization, write committed fields on commit.
type PageStore interface {
	GetPage(ctx context.Context, pageID string) (*Page, error)
	UpdatePage(ctx context.Context, pageID string, update PageUpdate) error
}

// RevisionStore is the revision-store contract: insert a new Revision on
// commit.
type RevisionStore interface {
	InsertRevision(ctx context.Context, rev Revision) (string, error)
}

// RevisionCommitter is the atomic commit contract required by §4.7: a
// Commit writes a new Revision and updates the owning Page's committed
// fields as a single durable unit, so a failure partway through never
// leaves a Revision persisted without its Page update (or vice versa). A
// production backing store implements CommitRevision as one database
// transaction wrapping what InsertRevision and UpdatePage do separately.
type RevisionCommitter interface {
	PageStore
	RevisionStore
	CommitRevision(ctx context.Context, pageID string, rev Revision, update PageUpdate) (string, error)
}

// Authorizer is the authorization contract: invoked on every inbound join,
// push, cursor, and commit. Decisions should be cached, if at all, only for
// seconds -- stale authz must not allow edits after permission revocation.
type Authorizer interface {
	EnsureCanEdit(ctx context.Context, userID, pageID string) error
}

var (
	ErrForbidden = errors.New("store: forbidden")
)

// ActivityLogger is the fire-and-forget activity contract: failures here
// must never fail a commit.
type ActivityLogger interface {
	LogCommit(ctx context.Context, userID, pageID, slug, title, message string)
}
