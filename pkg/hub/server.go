// Package hub is the connection adapter (C8, §4.8): it translates the
// bidirectional wire protocol in §6 into calls against pkg/collab's
// Coordinator and pkg/crdt's Log/Checkpointer/Committer, and fans their
// output back out to the right sockets. It is the only package that knows
// the wire message names.
package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/crdt"
	"github.com/otwiki/collab/pkg/idgen"
	"github.com/otwiki/collab/pkg/metrics"
	"github.com/otwiki/collab/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires one Hub to the collaboration core's entry points. It is the
// http.Handler a chi router mounts the edit-room route on.
type Server struct {
	hub          *Hub
	coordinator  *collab.Coordinator
	crdtLog      *crdt.Log
	checkpointer *crdt.Checkpointer
	committer    *crdt.Committer
	authz        store.Authorizer
	metrics      *metrics.Collector
}

// NewServer wires the adapter to the session coordinator and CRDT pipeline.
// authz gates every CRDT-pipeline inbound event (Init/Push/Presence/Commit);
// the OT pipeline's events are already gated inside Coordinator itself.
func NewServer(h *Hub, coordinator *collab.Coordinator, crdtLog *crdt.Log, checkpointer *crdt.Checkpointer, committer *crdt.Committer, authz store.Authorizer, collector *metrics.Collector) *Server {
	return &Server{
		hub:          h,
		coordinator:  coordinator,
		crdtLog:      crdtLog,
		checkpointer: checkpointer,
		committer:    committer,
		authz:        authz,
		metrics:      collector,
	}
}

// Routes mounts the edit-room websocket endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/_ws/collab", s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		return
	}

	c := newConnection(idgen.New().Hex(), conn)
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	go c.writePump()
	s.readPump(r.Context(), c)
}

// readPump is the read loop for one connection: decode an envelope, dispatch
// by message name, repeat until the socket errors or closes. Every dispatch
// error is surfaced to the client as an Error frame; none of them closes
// the connection.
func (s *Server) readPump(parent context.Context, c *Connection) {
	defer func() {
		if pageID := c.PageID(); pageID != "" {
			s.hub.Unregister(pageID, c)
			if userID := c.UserID(); userID != "" {
				s.coordinator.Leave(parent, pageID, userID)
			}
		}
		c.close()
		if s.metrics != nil {
			s.metrics.ConnectionClosed()
		}
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env inboundEnvelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(parent, 10*time.Second)
		s.dispatch(ctx, c, env)
		cancel()
	}
}

func (s *Server) dispatch(ctx context.Context, c *Connection, env inboundEnvelope) {
	var err error
	switch env.Type {
	case "JoinEditRoom":
		err = s.handleJoin(ctx, c, env.Payload)
	case "LeaveEditRoom":
		err = s.handleLeave(ctx, c, env.Payload)
	case "SendTextOperation":
		err = s.handleSendTextOperation(ctx, c, env.Payload)
	case "SendCursorUpdate":
		err = s.handleSendCursorUpdate(ctx, c, env.Payload)
	case "RequestDocumentSync":
		err = s.handleRequestDocumentSync(ctx, c, env.Payload)
	case "RequestOperationsSince":
		err = s.handleRequestOperationsSince(ctx, c, env.Payload)
	case "RequestStateSync":
		err = s.handleRequestStateSync(ctx, c, env.Payload)
	case "UpdateClientState":
		err = s.handleUpdateClientState(c, env.Payload)
	case "Init":
		err = s.handleInit(ctx, c, env.Payload)
	case "Push":
		err = s.handlePush(ctx, c, env.Payload)
	case "Presence":
		err = s.handlePresence(ctx, c, env.Payload)
	case "Commit":
		err = s.handleCommit(ctx, c, env.Payload)
	default:
		err = errors.New("unknown message type")
	}
	if err != nil {
		c.enqueue(outboundFrame{Type: "Error", Payload: map[string]any{"message": err.Error()}})
	}
}

func (s *Server) handleJoin(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p joinEditRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	doc, users, err := s.coordinator.Join(ctx, p.PageID, p.UserID, p.DisplayName, p.Email)
	if err != nil {
		return err
	}
	c.bind(p.PageID, p.UserID)
	s.hub.Register(p.PageID, c)

	c.enqueue(encodeOutbound(collab.MsgDocumentState{
		Content:              doc.Content,
		GlobalSequenceNumber: doc.GlobalSequenceNumber,
		ContentHash:          doc.ContentHash,
	}))
	c.enqueue(encodeOutbound(collab.MsgUserList{Users: users}))
	return nil
}

func (s *Server) handleLeave(ctx context.Context, c *Connection, raw json.RawMessage) error {
	pageID, userID := c.PageID(), c.UserID()
	if pageID == "" {
		return nil
	}
	s.coordinator.Leave(ctx, pageID, userID)
	s.hub.Unregister(pageID, c)
	c.bind("", "")
	return nil
}

func (s *Server) handleSendTextOperation(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p sendTextOperationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	op := p.Operation.toOperation(c.UserID())
	return s.coordinator.SubmitOperation(ctx, c.PageID(), op)
}

func (s *Server) handleSendCursorUpdate(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p sendCursorUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	return s.coordinator.UpdateCursor(ctx, c.PageID(), c.UserID(), p.Cursor.toCursor())
}

func (s *Server) handleRequestDocumentSync(ctx context.Context, c *Connection, raw json.RawMessage) error {
	doc, ok := s.coordinator.Snapshot(c.PageID())
	if !ok {
		return collab.ErrNotFound
	}
	c.enqueue(encodeOutbound(collab.MsgDocumentState{
		Content:              doc.Content,
		GlobalSequenceNumber: doc.GlobalSequenceNumber,
		ContentHash:          doc.ContentHash,
	}))
	return nil
}

func (s *Server) handleRequestOperationsSince(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p requestOperationsSincePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	return s.coordinator.RequestOperationsSince(ctx, c.PageID(), c.UserID(), p.ClientSeq)
}

func (s *Server) handleRequestStateSync(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p requestStateSyncPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	return s.coordinator.RequestStateSync(ctx, c.PageID(), c.UserID(), p.ClientSeq, p.ClientContentHash)
}

func (s *Server) handleUpdateClientState(c *Connection, raw json.RawMessage) error {
	var p updateClientStatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	s.coordinator.UpdateClientState(c.PageID(), c.UserID(), p.Seq)
	return nil
}

func (s *Server) handleInit(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p initPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if err := s.authz.EnsureCanEdit(ctx, p.ClientID, p.PageID); err != nil {
		return err
	}
	c.bind(p.PageID, p.ClientID)
	s.hub.Register(p.PageID, c)

	session := s.crdtLog.OpenSession(p.PageID)
	version, checkpointBytes, awareness := session.CheckpointSnapshot()

	c.enqueue(outboundFrame{Type: "Init", Payload: crdtInitPayload{
		SessionID:         session.SessionID,
		CheckpointVersion: version,
		CheckpointBytes:   base64.StdEncoding.EncodeToString(checkpointBytes),
		AwarenessJSON:     awareness,
	}})
	return nil
}

func (s *Server) handlePush(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p pushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if err := s.authz.EnsureCanEdit(ctx, c.UserID(), c.PageID()); err != nil {
		return err
	}
	updateBytes, err := p.decodeUpdateBytes()
	if err != nil {
		return err
	}

	session := s.crdtLog.OpenSession(c.PageID())
	seq, err := s.crdtLog.Push(session.SessionID, p.ClientID, updateBytes, p.ClientVectorJSON)
	if err != nil {
		return err
	}

	s.hub.crdtSendExcept(c.PageID(), c, outboundFrame{Type: "Update", Payload: crdtUpdatePayload{
		UpdateBytes: p.UpdateBytesB64,
		Seq:         seq,
	}})
	return nil
}

func (s *Server) handlePresence(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p presencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if err := s.authz.EnsureCanEdit(ctx, c.UserID(), c.PageID()); err != nil {
		return err
	}
	s.hub.crdtSendExcept(c.PageID(), c, outboundFrame{Type: "Presence", Payload: crdtPresencePayload{
		PresenceJSON: p.PresenceJSON,
	}})
	return nil
}

func (s *Server) handleCommit(ctx context.Context, c *Connection, raw json.RawMessage) error {
	var p commitPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if err := s.authz.EnsureCanEdit(ctx, c.UserID(), c.PageID()); err != nil {
		return err
	}
	_, err := s.committer.Commit(ctx, c.PageID(), c.UserID(), p.Message)
	if s.metrics != nil {
		s.metrics.RecordCommit(err == nil)
	}
	return err
}
