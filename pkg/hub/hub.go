package hub

import (
	"sync"

	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/metrics"
)

// Hub owns the per-page connection group (§4.8): the set of sockets that
// should receive a given page's fan-out. It implements collab.Broadcaster
// for the OT pipeline and exposes its own send-to-all-but-sender helper for
// the CRDT pipeline's Update/Presence frames, which have no Broadcaster
// equivalent.
//
// Membership changes are the only mutation; delivery itself never takes
// the group lock for longer than a slice copy; writes happen on each
// connection's own writePump so one slow peer cannot stall another.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Connection]struct{} // pageID -> connections

	metrics *metrics.Collector
}

// NewHub constructs an empty hub. collector may be nil.
func NewHub(collector *metrics.Collector) *Hub {
	return &Hub{
		groups:  make(map[string]map[*Connection]struct{}),
		metrics: collector,
	}
}

// Register adds conn to pageID's group. A connection may be registered in
// at most one group at a time; re-registering under a new pageID first
// removes it from the old one.
func (h *Hub) Register(pageID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for old, group := range h.groups {
		if _, in := group[conn]; in && old != pageID {
			h.removeLocked(old, conn)
		}
	}
	group, ok := h.groups[pageID]
	if !ok {
		group = make(map[*Connection]struct{})
		h.groups[pageID] = group
	}
	group[conn] = struct{}{}
}

// Unregister removes conn from pageID's group, pruning the group if empty.
func (h *Hub) Unregister(pageID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(pageID, conn)
}

func (h *Hub) removeLocked(pageID string, conn *Connection) {
	group, ok := h.groups[pageID]
	if !ok {
		return
	}
	delete(group, conn)
	if len(group) == 0 {
		delete(h.groups, pageID)
	}
}

func (h *Hub) snapshotGroup(pageID string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	group, ok := h.groups[pageID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(group))
	for c := range group {
		out = append(out, c)
	}
	return out
}

// SendToUser implements collab.Broadcaster.
func (h *Hub) SendToUser(pageID, userID string, msg collab.OutboundMessage) {
	frame := encodeOutbound(msg)
	for _, c := range h.snapshotGroup(pageID) {
		if c.UserID() == userID {
			c.enqueue(frame)
		}
	}
}

// BroadcastExcept implements collab.Broadcaster.
func (h *Hub) BroadcastExcept(pageID, exceptUserID string, msg collab.OutboundMessage) {
	frame := encodeOutbound(msg)
	for _, c := range h.snapshotGroup(pageID) {
		if c.UserID() != exceptUserID {
			c.enqueue(frame)
		}
	}
}

// BroadcastAll implements collab.Broadcaster.
func (h *Hub) BroadcastAll(pageID string, msg collab.OutboundMessage) {
	frame := encodeOutbound(msg)
	for _, c := range h.snapshotGroup(pageID) {
		c.enqueue(frame)
	}
}

// crdtSendExcept fans a CRDT-pipeline frame out to every connection in
// pageID's group other than exceptConn. Used directly by Server, since the
// CRDT pipeline has no Broadcaster of its own.
func (h *Hub) crdtSendExcept(pageID string, exceptConn *Connection, frame outboundFrame) {
	for _, c := range h.snapshotGroup(pageID) {
		if c != exceptConn {
			c.enqueue(frame)
		}
	}
}

var _ collab.Broadcaster = (*Hub)(nil)

// encodeOutbound converts a collab.OutboundMessage into the wire frame §6
// names. The switch is exhaustive over every concrete type pkg/collab
// defines; an unrecognized type indicates pkg/collab grew a message this
// adapter hasn't learned yet.
func encodeOutbound(msg collab.OutboundMessage) outboundFrame {
	switch m := msg.(type) {
	case collab.MsgDocumentState:
		return outboundFrame{Type: "DocumentState", Payload: map[string]any{
			"content":     m.Content,
			"globalSeq":   m.GlobalSequenceNumber,
			"contentHash": m.ContentHash,
		}}
	case collab.MsgUserList:
		users := make([]wirePresence, 0, len(m.Users))
		for _, u := range m.Users {
			users = append(users, presenceToWire(u))
		}
		return outboundFrame{Type: "UserList", Payload: map[string]any{"users": users}}
	case collab.MsgUserJoined:
		return outboundFrame{Type: "UserJoined", Payload: map[string]any{"user": presenceToWire(m.User)}}
	case collab.MsgUserLeft:
		return outboundFrame{Type: "UserLeft", Payload: map[string]any{"userId": m.UserID}}
	case collab.MsgReceiveOperation:
		return outboundFrame{Type: "ReceiveOperation", Payload: map[string]any{"op": operationToWire(m.Operation)}}
	case collab.MsgOperationConfirmed:
		return outboundFrame{Type: "OperationConfirmed", Payload: map[string]any{
			"opId":      m.OperationID,
			"serverSeq": m.ServerSequenceNumber,
		}}
	case collab.MsgOperationRejected:
		return outboundFrame{Type: "OperationRejected", Payload: map[string]any{
			"opId":   m.OperationID,
			"reason": m.Reason,
		}}
	case collab.MsgReceiveCursor:
		return outboundFrame{Type: "ReceiveCursor", Payload: map[string]any{
			"userId": m.UserID,
			"cursor": cursorToWire(m.Cursor),
		}}
	case collab.MsgOperationsSinceState:
		ops := make([]wireOperation, 0, len(m.Operations))
		for _, op := range m.Operations {
			ops = append(ops, operationToWire(op))
		}
		return outboundFrame{Type: "OperationsSinceState", Payload: map[string]any{"ops": ops}}
	case collab.MsgStateVerified:
		return outboundFrame{Type: "StateVerified", Payload: map[string]any{"seq": m.GlobalSequenceNumber}}
	case collab.MsgRequiredResync:
		return outboundFrame{Type: "RequiredResync", Payload: map[string]any{
			"content": m.Content,
			"seq":     m.GlobalSequenceNumber,
			"hash":    m.ContentHash,
		}}
	case collab.MsgError:
		return outboundFrame{Type: "Error", Payload: map[string]any{"message": m.Message}}
	default:
		return outboundFrame{Type: "Error", Payload: map[string]any{"message": "internal error: unencodable message"}}
	}
}
