// Package crdt implements the second collaboration pipeline (§1, §4.5-4.7):
// an append-only per-session log of opaque update bytes, a background
// checkpointer that folds the log into a snapshot, and a committer that
// materializes the snapshot into a durable Page revision. Updates are
// opaque to this package -- no transform is ever performed here, unlike
// pkg/collab's OT pipeline.
package crdt

import (
	"sync"
	"time"

	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/idgen"
	"github.com/otwiki/collab/pkg/metrics"
)

// CRDTUpdate is one opaque update row, totally ordered within a session by
// ID (§3).
type CRDTUpdate struct {
	ID              int64
	SessionID       string
	ClientID        string
	VectorClockJSON string
	UpdateBytes     []byte
	CreatedAt       time.Time
}

// CRDTSession is the second pipeline's session record (§3). It is distinct
// from collab.Session: it tracks opaque updates and a checkpoint rather
// than OT history.
type CRDTSession struct {
	mu sync.Mutex

	SessionID         string
	PageID            string
	CreatedAt         time.Time
	ClosedAt          time.Time
	CheckpointVersion int64
	CheckpointBytes   []byte
	AwarenessJSON     string

	updates            []CRDTUpdate
	nextID             int64
	lastCheckpointAt   time.Time
	updatesSinceFold   int
}

// Log owns every open CRDTSession, keyed by sessionId, plus a pageId index
// so at most one CRDT session is open per page at a time -- mirroring the
// OT pipeline's one-session-per-page rule even though the two pipelines
// never share a session record.
type Log struct {
	mu       sync.RWMutex
	sessions map[string]*CRDTSession
	byPage   map[string]string

	cfg     *collab.Config
	metrics *metrics.Collector
}

// NewLog constructs an empty log.
func NewLog(cfg *collab.Config, collector *metrics.Collector) *Log {
	return &Log{
		sessions: make(map[string]*CRDTSession),
		byPage:   make(map[string]string),
		cfg:      cfg,
		metrics:  collector,
	}
}

// OpenSession returns the open CRDTSession for pageID, creating one (with a
// fresh sessionId) if none is open. This is the Init handler's entry point.
func (l *Log) OpenSession(pageID string) *CRDTSession {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sessionID, ok := l.byPage[pageID]; ok {
		if s, ok := l.sessions[sessionID]; ok {
			return s
		}
	}

	now := time.Now()
	s := &CRDTSession{
		SessionID:        idgen.New().Hex(),
		PageID:           pageID,
		CreatedAt:        now,
		lastCheckpointAt: now,
	}
	l.sessions[s.SessionID] = s
	l.byPage[pageID] = s.SessionID
	return s
}

// Session looks up an already-open session by id.
func (l *Log) Session(sessionID string) (*CRDTSession, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sessions[sessionID]
	return s, ok
}

// Sessions returns every currently open session, for the checkpointer sweep.
func (l *Log) Sessions() []*CRDTSession {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*CRDTSession, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	return out
}

// CloseSession marks a session closed and drops it from the page index so a
// later Init opens a fresh one. Past updates remain reachable through the
// session record itself for any in-flight checkpoint/commit.
func (l *Log) CloseSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	s.ClosedAt = time.Now()
	s.mu.Unlock()
	delete(l.byPage, s.PageID)
	delete(l.sessions, sessionID)
}

// Push appends an opaque update, rejecting it if it exceeds MaxUpdateBytes.
// No transform happens here -- the bytes are opaque to the server (§4.5).
func (l *Log) Push(sessionID, clientID string, updateBytes []byte, vectorClockJSON string) (int64, error) {
	if len(updateBytes) > l.cfg.MaxUpdateBytes {
		if l.metrics != nil {
			l.metrics.RecordUpdateOversized()
		}
		return 0, collab.ErrOversize
	}

	s, ok := l.Session(sessionID)
	if !ok {
		return 0, collab.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	update := CRDTUpdate{
		ID:              s.nextID,
		SessionID:       sessionID,
		ClientID:        clientID,
		VectorClockJSON: vectorClockJSON,
		UpdateBytes:     updateBytes,
		CreatedAt:       time.Now(),
	}
	s.updates = append(s.updates, update)
	s.updatesSinceFold++

	if l.metrics != nil {
		l.metrics.RecordUpdatePushed()
	}
	return update.ID, nil
}

// GetSince returns every update with ID > afterID, in ascending order.
func (l *Log) GetSince(sessionID string, afterID int64) ([]CRDTUpdate, bool) {
	s, ok := l.Session(sessionID)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []CRDTUpdate
	for _, u := range s.updates {
		if u.ID > afterID {
			out = append(out, u)
		}
	}
	return out, true
}

// CheckpointSnapshot returns the session's current checkpoint fields under
// lock, for callers outside this package (the hub's Init handler) that need
// a consistent read without reaching into unexported state.
func (s *CRDTSession) CheckpointSnapshot() (version int64, bytes []byte, awarenessJSON string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CheckpointVersion, s.CheckpointBytes, s.AwarenessJSON
}

// latestUpdateLocked returns the most recently pushed update, if any. The
// caller must hold s.mu.
func (s *CRDTSession) latestUpdateLocked() (CRDTUpdate, bool) {
	if len(s.updates) == 0 {
		return CRDTUpdate{}, false
	}
	return s.updates[len(s.updates)-1], true
}
