package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otwiki/collab/pkg/concurrent"
)

// MemoryStore is an in-memory PageStore + RevisionStore, suitable for the
// demo binary and integration tests. Pages are held in a flat map; each
// page's revisions are kept as a version chain (most recent at the head),
// mirroring how the teacher's MVCC layer threads versions per key.
type MemoryStore struct {
	mu    sync.RWMutex
	pages map[string]*Page

	revisionsMu sync.RWMutex
	revisions   map[string]*revisionChain // pageID -> chain

	revisionSeq atomic.Int64

	// bodyCache fronts GetPage with a read-through cache of page bodies, so
	// repeated session-open reads on a hot page don't keep re-copying the
	// same string out of the map under lock.
	bodyCache *concurrent.ShardedLRUCache
}

// revisionChain is a linked list of a page's revisions, newest first.
type revisionChain struct {
	mu   sync.RWMutex
	head *revisionNode
}

type revisionNode struct {
	revision Revision
	next     *revisionNode
}

// NewMemoryStore creates an empty store. cacheTTL of 0 disables expiry.
func NewMemoryStore(cacheCapacity int, cacheTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		pages:     make(map[string]*Page),
		revisions: make(map[string]*revisionChain),
		bodyCache: concurrent.NewShardedLRUCache(cacheCapacity, cacheTTL, 16),
	}
}

// SeedPage installs a page directly, for test setup and the demo binary's
// bootstrap data; production deployments would not use this path.
func (m *MemoryStore) SeedPage(p Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := p
	m.pages[p.ID] = &page
	m.bodyCache.Put(p.ID, page.LastCommittedContent)
}

func (m *MemoryStore) GetPage(ctx context.Context, pageID string) (*Page, error) {
	m.mu.RLock()
	page, ok := m.pages[pageID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := *page
	return &cp, nil
}

// LoadContent implements collab.PageContentLoader: it seeds a fresh session
// from the page's last-committed body, going through the body cache first.
func (m *MemoryStore) LoadContent(ctx context.Context, pageID string) (string, error) {
	if cached, ok := m.bodyCache.Get(pageID); ok {
		return cached.(string), nil
	}
	page, err := m.GetPage(ctx, pageID)
	if err != nil {
		return "", err
	}
	m.bodyCache.Put(pageID, page.LastCommittedContent)
	return page.LastCommittedContent, nil
}

func (m *MemoryStore) UpdatePage(ctx context.Context, pageID string, update PageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, ok := m.pages[pageID]
	if !ok {
		return ErrNotFound
	}

	page.Title = update.Title
	page.Summary = update.Summary
	page.Body = update.Body
	page.BodyFormat = update.BodyFormat
	page.UpdatedBy = update.UpdatedBy
	page.UpdatedAt = time.Now()
	page.LastCommittedAt = page.UpdatedAt
	page.LastCommittedContent = update.LastCommittedContent
	page.HasUncommittedChanges = false

	m.bodyCache.Put(pageID, page.LastCommittedContent)
	return nil
}

// CommitRevision implements store.RevisionCommitter: it writes rev and
// applies update to pageID's committed fields as a single critical section,
// so a caller never observes one write without the other. The only failure
// mode, a missing page, is checked before either write happens.
func (m *MemoryStore) CommitRevision(ctx context.Context, pageID string, rev Revision, update PageUpdate) (string, error) {
	m.mu.Lock()
	page, ok := m.pages[pageID]
	if !ok {
		m.mu.Unlock()
		return "", ErrNotFound
	}

	id := fmt.Sprintf("rev-%d", m.revisionSeq.Add(1))
	rev.ID = id
	rev.PageID = pageID
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now()
	}

	page.Title = update.Title
	page.Summary = update.Summary
	page.Body = update.Body
	page.BodyFormat = update.BodyFormat
	page.UpdatedBy = update.UpdatedBy
	page.UpdatedAt = time.Now()
	page.LastCommittedAt = page.UpdatedAt
	page.LastCommittedContent = update.LastCommittedContent
	page.HasUncommittedChanges = false
	m.bodyCache.Put(pageID, page.LastCommittedContent)
	m.mu.Unlock()

	m.revisionsMu.Lock()
	chain, ok := m.revisions[pageID]
	if !ok {
		chain = &revisionChain{}
		m.revisions[pageID] = chain
	}
	m.revisionsMu.Unlock()

	chain.mu.Lock()
	chain.head = &revisionNode{revision: rev, next: chain.head}
	chain.mu.Unlock()

	return id, nil
}

func (m *MemoryStore) InsertRevision(ctx context.Context, rev Revision) (string, error) {
	id := fmt.Sprintf("rev-%d", m.revisionSeq.Add(1))
	rev.ID = id
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now()
	}

	m.revisionsMu.Lock()
	chain, ok := m.revisions[rev.PageID]
	if !ok {
		chain = &revisionChain{}
		m.revisions[rev.PageID] = chain
	}
	m.revisionsMu.Unlock()

	chain.mu.Lock()
	chain.head = &revisionNode{revision: rev, next: chain.head}
	chain.mu.Unlock()

	return id, nil
}

// LatestRevision returns the most recently inserted revision for a page, if
// any. Used by the read-only query surface.
func (m *MemoryStore) LatestRevision(pageID string) (Revision, bool) {
	m.revisionsMu.RLock()
	chain, ok := m.revisions[pageID]
	m.revisionsMu.RUnlock()
	if !ok {
		return Revision{}, false
	}

	chain.mu.RLock()
	defer chain.mu.RUnlock()
	if chain.head == nil {
		return Revision{}, false
	}
	return chain.head.revision, true
}

// Revisions returns up to limit revisions for a page, newest first.
func (m *MemoryStore) Revisions(pageID string, limit int) []Revision {
	m.revisionsMu.RLock()
	chain, ok := m.revisions[pageID]
	m.revisionsMu.RUnlock()
	if !ok {
		return nil
	}

	chain.mu.RLock()
	defer chain.mu.RUnlock()

	var out []Revision
	for node := chain.head; node != nil && (limit <= 0 || len(out) < limit); node = node.next {
		out = append(out, node.revision)
	}
	return out
}
