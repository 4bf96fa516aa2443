package api

import (
	"github.com/graphql-go/graphql"

	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/store"
)

// Resolver answers every read-only query field against the committed page
// store and the live OT session state. It never mutates: the wire protocol
// in pkg/hub is the only write path into the collaboration core.
type Resolver struct {
	pages       *store.MemoryStore
	coordinator *collab.Coordinator
}

// NewResolver wires a resolver to the durable store and the session
// coordinator it reads presence/content snapshots from.
func NewResolver(pages *store.MemoryStore, coordinator *collab.Coordinator) *Resolver {
	return &Resolver{pages: pages, coordinator: coordinator}
}

// Page resolves Query.page.
func (r *Resolver) Page(p graphql.ResolveParams) (interface{}, error) {
	id, _ := p.Args["id"].(string)
	page, err := r.pages.GetPage(p.Context, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return page, nil
}

// Revisions resolves Query.revisions.
func (r *Resolver) Revisions(p graphql.ResolveParams) (interface{}, error) {
	pageID, _ := p.Args["pageId"].(string)
	limit := 20
	if l, ok := p.Args["limit"].(int); ok && l > 0 {
		limit = l
	}
	return r.pages.Revisions(pageID, limit), nil
}

// LatestRevision resolves Query.latestRevision.
func (r *Resolver) LatestRevision(p graphql.ResolveParams) (interface{}, error) {
	pageID, _ := p.Args["pageId"].(string)
	rev, ok := r.pages.LatestRevision(pageID)
	if !ok {
		return nil, nil
	}
	return rev, nil
}

// sessionSnapshot is the read-only view of one page's live OT session,
// returned by Query.session.
type sessionSnapshot struct {
	PageID               string
	Content              string
	GlobalSequenceNumber int64
	ContentHash          string
	Users                []*collab.UserPresence
}

// Session resolves Query.session: the live document state and connected
// users for a page, or nil if no one has joined an edit room for it yet.
func (r *Resolver) Session(p graphql.ResolveParams) (interface{}, error) {
	pageID, _ := p.Args["pageId"].(string)
	doc, ok := r.coordinator.Snapshot(pageID)
	if !ok {
		return nil, nil
	}
	users, _ := r.coordinator.Presence(pageID)
	return sessionSnapshot{
		PageID:               pageID,
		Content:              doc.Content,
		GlobalSequenceNumber: doc.GlobalSequenceNumber,
		ContentHash:          doc.ContentHash,
		Users:                users,
	}, nil
}
