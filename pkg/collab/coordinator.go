package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/otwiki/collab/pkg/metrics"
)

// PageContentLoader reads a page's last-committed body, used to seed a
// session the first time it is opened.
type PageContentLoader interface {
	LoadContent(ctx context.Context, pageID string) (string, error)
}

// Authorizer is the out-of-scope authorization contract from §6. It is
// invoked on every inbound join, push, cursor, and commit.
type Authorizer interface {
	EnsureCanEdit(ctx context.Context, userID, pageID string) error
}

// sessionActor owns one Session plus its single-writer drain goroutine. At
// most one drain runs per session at any instant; mailbox enqueues are safe
// from any goroutine.
type sessionActor struct {
	session *Session
	mailbox chan Operation
	quit    chan struct{}
}

// Coordinator is the single writer for every session it manages (C4). It
// owns the pageId -> session map and runs one drain goroutine per open
// session.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*sessionActor

	cfg         *Config
	loader      PageContentLoader
	authz       Authorizer
	broadcaster Broadcaster
	metrics     *metrics.Collector

	wg sync.WaitGroup
}

// NewCoordinator wires the coordinator to its collaborators. broadcaster and
// metrics may be swapped later via SetBroadcaster for callers that construct
// the hub after the coordinator (their natural wiring order is circular).
func NewCoordinator(cfg *Config, loader PageContentLoader, authz Authorizer, broadcaster Broadcaster, collector *metrics.Collector) *Coordinator {
	return &Coordinator{
		sessions:    make(map[string]*sessionActor),
		cfg:         cfg,
		loader:      loader,
		authz:       authz,
		broadcaster: broadcaster,
		metrics:     collector,
	}
}

// SetBroadcaster assigns the fan-out target. pkg/hub typically constructs
// after the coordinator, so this breaks the construction cycle.
func (c *Coordinator) SetBroadcaster(b Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcaster = b
}

func (c *Coordinator) send(pageID, userID string, msg OutboundMessage) {
	c.mu.RLock()
	b := c.broadcaster
	c.mu.RUnlock()
	if b != nil {
		b.SendToUser(pageID, userID, msg)
	}
}

func (c *Coordinator) broadcastExcept(pageID, exceptUserID string, msg OutboundMessage) {
	c.mu.RLock()
	b := c.broadcaster
	c.mu.RUnlock()
	if b != nil {
		b.BroadcastExcept(pageID, exceptUserID, msg)
	}
}

func (c *Coordinator) broadcastAll(pageID string, msg OutboundMessage) {
	c.mu.RLock()
	b := c.broadcaster
	c.mu.RUnlock()
	if b != nil {
		b.BroadcastAll(pageID, msg)
	}
}

// getExisting returns the actor for pageID without creating one.
func (c *Coordinator) getExisting(pageID string) (*sessionActor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	actor, ok := c.sessions[pageID]
	return actor, ok
}

// getOrCreateActor returns the open session for pageID, loading it from the
// page store and starting its drain goroutine on first access.
func (c *Coordinator) getOrCreateActor(ctx context.Context, pageID string) (*sessionActor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if actor, ok := c.sessions[pageID]; ok {
		return actor, nil
	}

	content, err := c.loader.LoadContent(ctx, pageID)
	if err != nil {
		return nil, err
	}

	session := NewSession(pageID, content, c.cfg.MaxOperationHistorySize)
	actor := &sessionActor{
		session: session,
		mailbox: make(chan Operation, 256),
		quit:    make(chan struct{}),
	}
	c.sessions[pageID] = actor
	if c.metrics != nil {
		c.metrics.SessionOpened()
	}

	c.wg.Add(1)
	go c.runDrain(actor, pageID)

	return actor, nil
}

func (c *Coordinator) runDrain(actor *sessionActor, pageID string) {
	defer c.wg.Done()
	for {
		select {
		case op, ok := <-actor.mailbox:
			if !ok {
				return
			}
			c.processOperation(actor, pageID, op)
		case <-actor.quit:
			return
		}
	}
}

// processOperation is drain steps 1-8 of §4.4. It recovers from panics so a
// bad op can never leave globalSequenceNumber, content, and history out of
// sync (ErrFatal: abort, do not advance sequence).
func (c *Coordinator) processOperation(actor *sessionActor, pageID string, op Operation) {
	start := time.Now()
	outcome := "applied"
	defer func() {
		if r := recover(); r != nil {
			log.Printf("collab: panic draining operation %s for page %s: %v", op.OperationID, pageID, r)
			c.send(pageID, op.UserID, MsgError{Message: "internal error"})
			outcome = "rejected"
		}
		if c.metrics != nil {
			c.metrics.RecordDrain(time.Since(start), outcome)
		}
	}()

	session := actor.session

	// Step 1: well-formedness.
	if !op.WellFormed() {
		c.send(pageID, op.UserID, MsgOperationRejected{OperationID: op.OperationID, Reason: "malformed"})
		outcome = "rejected"
		return
	}

	// Step 2: transform against the tail of history the client hasn't seen.
	tail := session.HistoryTailAfter(op.ExpectedSequenceNumber)
	if c.metrics != nil {
		for range tail {
			c.metrics.RecordTransform()
		}
	}
	transformed, ok := TransformAgainstHistory(op, tail)
	if !ok {
		c.send(pageID, op.UserID, MsgOperationRejected{OperationID: op.OperationID, Reason: "conflict"})
		outcome = "conflict"
		return
	}

	// Step 4: verify applicability to current content.
	current := session.Content()
	if !transformed.CanApplyTo(current) {
		c.send(pageID, op.UserID, MsgOperationRejected{OperationID: op.OperationID, Reason: "conflict"})
		outcome = "conflict"
		return
	}

	newContent, err := transformed.Apply(current)
	if err != nil {
		c.send(pageID, op.UserID, MsgOperationRejected{OperationID: op.OperationID, Reason: "conflict"})
		outcome = "conflict"
		return
	}

	// Steps 5-6: assign sequence, apply, append. Session.Append does this
	// atomically under its own lock so a failure here never leaves a
	// half-applied op.
	transformed.ServerSequenceNumber = session.GlobalSequence() + 1
	transformed.ServerTimestamp = time.Now()
	session.Append(transformed, newContent)

	// Step 7: fan-out and ack.
	c.broadcastExcept(pageID, transformed.UserID, MsgReceiveOperation{Operation: transformed})
	c.send(pageID, transformed.UserID, MsgOperationConfirmed{
		OperationID:          transformed.OperationID,
		ServerSequenceNumber: transformed.ServerSequenceNumber,
	})

	// Step 8 (eviction) already ran inside Append.
}

// SubmitOperation enqueues op for the page's drain loop. Authorization is
// checked synchronously; everything past that point is asynchronous and
// surfaced to the client via the broadcaster.
func (c *Coordinator) SubmitOperation(ctx context.Context, pageID string, op Operation) error {
	if err := c.authz.EnsureCanEdit(ctx, op.UserID, pageID); err != nil {
		return err
	}

	actor, ok := c.getExisting(pageID)
	if !ok {
		return ErrNotFound
	}

	select {
	case actor.mailbox <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join runs the join protocol from §4.4: register presence with a
// deterministic color, return the document snapshot and user list to the
// caller (who is expected to unicast them to the joining client), and
// announce UserJoined to everyone else.
func (c *Coordinator) Join(ctx context.Context, pageID, userID, displayName, email string) (DocumentState, []*UserPresence, error) {
	if err := c.authz.EnsureCanEdit(ctx, userID, pageID); err != nil {
		return DocumentState{}, nil, err
	}

	actor, err := c.getOrCreateActor(ctx, pageID)
	if err != nil {
		return DocumentState{}, nil, err
	}

	if c.cfg.MaxConcurrentUsersPerSession > 0 && actor.session.UserCount() >= c.cfg.MaxConcurrentUsersPerSession {
		return DocumentState{}, nil, ErrConflict
	}

	palette := DefaultColorPalette
	if n := c.cfg.PresenceColorCount; n > 0 && n < len(palette) {
		palette = palette[:n]
	}

	now := time.Now()
	presence := &UserPresence{
		UserID:      userID,
		DisplayName: displayName,
		Email:       email,
		Color:       DeterministicColor(userID, palette),
		JoinedAt:    now,
		LastSeenAt:  now,
	}
	actor.session.AddUser(presence)

	doc := actor.session.Snapshot()
	users := actor.session.Users()

	c.broadcastExcept(pageID, userID, MsgUserJoined{User: presence})

	return doc, users, nil
}

// Leave runs the leave/disconnect protocol: drop presence and announce
// UserLeft. The session itself is reclaimed later by the idle sweep, not
// synchronously here, so that an in-flight commit for it completes first.
func (c *Coordinator) Leave(ctx context.Context, pageID, userID string) {
	actor, ok := c.getExisting(pageID)
	if !ok {
		return
	}
	actor.session.RemoveUser(userID)
	c.broadcastAll(pageID, MsgUserLeft{UserID: userID})
}

// UpdateCursor runs the lightweight cursor-update path: it bypasses the
// operation drainer entirely and fans out directly, per §4.4.
func (c *Coordinator) UpdateCursor(ctx context.Context, pageID, userID string, cursor Cursor) error {
	if err := c.authz.EnsureCanEdit(ctx, userID, pageID); err != nil {
		return err
	}
	actor, ok := c.getExisting(pageID)
	if !ok {
		return ErrNotFound
	}
	if !actor.session.UpdateCursor(userID, cursor) {
		return ErrNotFound
	}
	c.broadcastExcept(pageID, userID, MsgReceiveCursor{UserID: userID, Cursor: cursor})
	return nil
}

// RequestStateSync runs the resync/reconciliation protocol from §4.4.
func (c *Coordinator) RequestStateSync(ctx context.Context, pageID, userID string, lastSeenSeq int64, clientHash string) error {
	actor, ok := c.getExisting(pageID)
	if !ok {
		return ErrNotFound
	}
	session := actor.session

	current := session.GlobalSequence()
	hash := ContentHash(session.Content())

	if lastSeenSeq == current && clientHash == hash {
		session.UpdateClientSeq(userID, current)
		c.send(pageID, userID, MsgStateVerified{GlobalSequenceNumber: current})
		return nil
	}

	if lastSeenSeq < current {
		if ops, ok := session.GetOperationsSince(lastSeenSeq); ok {
			session.UpdateClientSeq(userID, current)
			c.send(pageID, userID, MsgOperationsSinceState{Operations: ops})
			return nil
		}
	}

	snap := session.Snapshot()
	session.UpdateClientSeq(userID, snap.GlobalSequenceNumber)
	c.send(pageID, userID, MsgRequiredResync{
		Content:              snap.Content,
		GlobalSequenceNumber: snap.GlobalSequenceNumber,
		ContentHash:          snap.ContentHash,
	})
	return nil
}

// RequestOperationsSince answers a plain incremental-replay request without
// the full state-hash comparison RequestStateSync performs.
func (c *Coordinator) RequestOperationsSince(ctx context.Context, pageID, userID string, clientSeq int64) error {
	actor, ok := c.getExisting(pageID)
	if !ok {
		return ErrNotFound
	}
	ops, ok := actor.session.GetOperationsSince(clientSeq)
	if !ok {
		snap := actor.session.Snapshot()
		c.send(pageID, userID, MsgRequiredResync{
			Content:              snap.Content,
			GlobalSequenceNumber: snap.GlobalSequenceNumber,
			ContentHash:          snap.ContentHash,
		})
		return nil
	}
	c.send(pageID, userID, MsgOperationsSinceState{Operations: ops})
	return nil
}

// UpdateClientState records a client-reported acknowledgment seq, feeding
// the history eviction floor (§4.3).
func (c *Coordinator) UpdateClientState(pageID, userID string, seq int64) {
	if actor, ok := c.getExisting(pageID); ok {
		actor.session.UpdateClientSeq(userID, seq)
	}
}

// Snapshot exposes the current DocumentState for read-only surfaces (e.g.
// the GraphQL API), without routing through authz or the broadcaster.
func (c *Coordinator) Snapshot(pageID string) (DocumentState, bool) {
	actor, ok := c.getExisting(pageID)
	if !ok {
		return DocumentState{}, false
	}
	return actor.session.Snapshot(), true
}

// Presence exposes the current connected-user list for read-only surfaces
// (e.g. the GraphQL API), without routing through authz or the broadcaster.
func (c *Coordinator) Presence(pageID string) ([]*UserPresence, bool) {
	actor, ok := c.getExisting(pageID)
	if !ok {
		return nil, false
	}
	return actor.session.Users(), true
}

// SessionCount returns the number of currently open OT sessions, for
// admin/stats endpoints.
func (c *Coordinator) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Run drives the idle-session sweep until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.AutoCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return
		case <-ticker.C:
			c.reapIdleSessions()
		}
	}
}

func (c *Coordinator) reapIdleSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()

	idleTimeout := c.cfg.IdleTimeout()
	for pageID, actor := range c.sessions {
		if actor.session.IsReclaimable(idleTimeout) {
			actor.session.MarkReclaimed()
			close(actor.quit)
			delete(c.sessions, pageID)
			if c.metrics != nil {
				c.metrics.SessionClosed()
			}
		}
	}
}

// Shutdown stops every drain goroutine and waits for them to exit. Any
// drain already in progress is allowed to finish (never interrupted
// mid-write, per the design notes).
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for _, actor := range c.sessions {
		close(actor.quit)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
