package hub

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/otwiki/collab/pkg/collab"
)

// inboundEnvelope is the generic shape every inbound frame is first decoded
// into; Type selects which payload struct Payload is re-decoded as.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// outboundFrame is what every outbound message is wrapped in before
// encoding, matching the wire contract's message-name-plus-payload shape.
type outboundFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func kindToWire(k collab.Kind) string { return k.String() }

func wireToKind(s string) collab.Kind {
	switch s {
	case "insert":
		return collab.KindInsert
	case "delete":
		return collab.KindDelete
	case "replace":
		return collab.KindReplace
	default:
		return collab.Kind(255)
	}
}

// wireOperation is the JSON shape of a Operation crossing the wire. Only the
// fields a client can legitimately set or needs to see are carried; server-
// assigned ServerSequenceNumber is included for outbound frames and ignored
// if present on inbound ones; ServerTimestamp is not carried.
type wireOperation struct {
	OperationID            string `json:"operationId,omitempty"`
	Kind                   string `json:"kind"`
	Position               int    `json:"position,omitempty"`
	Length                 int    `json:"length,omitempty"`
	SelectionStart         int    `json:"selectionStart,omitempty"`
	SelectionEnd           int    `json:"selectionEnd,omitempty"`
	Content                string `json:"content,omitempty"`
	ExpectedSequenceNumber int64  `json:"expectedSequenceNumber"`
	ServerSequenceNumber   int64  `json:"serverSequenceNumber,omitempty"`
	ClientTimestamp        int64  `json:"clientTimestamp,omitempty"` // unix millis
}

func (w wireOperation) toOperation(userID string) collab.Operation {
	return collab.Operation{
		OperationID:            w.OperationID,
		Kind:                   wireToKind(w.Kind),
		Position:               w.Position,
		Length:                 w.Length,
		SelectionStart:         w.SelectionStart,
		SelectionEnd:           w.SelectionEnd,
		Content:                w.Content,
		UserID:                 userID,
		ExpectedSequenceNumber: w.ExpectedSequenceNumber,
		ClientTimestamp:        time.UnixMilli(w.ClientTimestamp),
	}
}

func operationToWire(op collab.Operation) wireOperation {
	return wireOperation{
		OperationID:            op.OperationID,
		Kind:                   kindToWire(op.Kind),
		Position:               op.Position,
		Length:                 op.Length,
		SelectionStart:         op.SelectionStart,
		SelectionEnd:           op.SelectionEnd,
		Content:                op.Content,
		ExpectedSequenceNumber: op.ExpectedSequenceNumber,
		ServerSequenceNumber:   op.ServerSequenceNumber,
		ClientTimestamp:        op.ClientTimestamp.UnixMilli(),
	}
}

type wireCursor struct {
	Start     int   `json:"start"`
	End       int   `json:"end"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (w wireCursor) toCursor() collab.Cursor {
	return collab.Cursor{Start: w.Start, End: w.End, Timestamp: time.UnixMilli(w.Timestamp)}
}

func cursorToWire(c collab.Cursor) wireCursor {
	return wireCursor{Start: c.Start, End: c.End, Timestamp: c.Timestamp.UnixMilli()}
}

type wirePresence struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

func presenceToWire(p *collab.UserPresence) wirePresence {
	return wirePresence{UserID: p.UserID, DisplayName: p.DisplayName, Color: p.Color}
}

// inbound payloads, one per message name from §6.

type joinEditRoomPayload struct {
	PageID      string `json:"pageId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

type leaveEditRoomPayload struct {
	PageID string `json:"pageId"`
}

type sendTextOperationPayload struct {
	PageID    string        `json:"pageId"`
	Operation wireOperation `json:"operation"`
}

type sendCursorUpdatePayload struct {
	PageID string     `json:"pageId"`
	Cursor wireCursor `json:"cursor"`
}

type requestDocumentSyncPayload struct {
	PageID string `json:"pageId"`
}

type requestOperationsSincePayload struct {
	PageID    string `json:"pageId"`
	ClientSeq int64  `json:"clientSeq"`
}

type requestStateSyncPayload struct {
	PageID             string `json:"pageId"`
	ClientSeq          int64  `json:"clientSeq"`
	ClientContentHash  string `json:"clientContentHash"`
}

type updateClientStatePayload struct {
	PageID string `json:"pageId"`
	Seq    int64  `json:"seq"`
}

type initPayload struct {
	PageID           string `json:"pageId"`
	ClientVectorJSON string `json:"clientVectorJson,omitempty"`
	ClientID         string `json:"clientId"`
}

type pushPayload struct {
	PageID           string `json:"pageId"`
	UpdateBytesB64   string `json:"updateBytes"`
	ClientVectorJSON string `json:"clientVectorJson,omitempty"`
	ClientID         string `json:"clientId"`
}

func (p pushPayload) decodeUpdateBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.UpdateBytesB64)
}

type presencePayload struct {
	PageID        string `json:"pageId"`
	PresenceJSON  string `json:"presenceJson"`
}

type commitPayload struct {
	PageID  string `json:"pageId"`
	Message string `json:"message"`
}

// outbound payload shapes for the CRDT pipeline's Init/Update/Presence,
// which have no collab.OutboundMessage equivalent since pkg/crdt never
// touches a Broadcaster -- the hub fans these out directly.

type crdtInitPayload struct {
	SessionID         string `json:"sessionId"`
	CheckpointVersion int64  `json:"checkpointVersion"`
	CheckpointBytes   string `json:"checkpointBytes,omitempty"` // base64
	AwarenessJSON     string `json:"awarenessJson,omitempty"`
}

type crdtUpdatePayload struct {
	UpdateBytes string `json:"updateBytes"` // base64
	Seq         int64  `json:"seq"`
}

type crdtPresencePayload struct {
	PresenceJSON string `json:"presenceJson"`
}
