package hub

import (
	"testing"
	"time"

	"github.com/otwiki/collab/pkg/collab"
)

type noopWS struct{}

func (noopWS) ReadJSON(v any) error                 { return nil }
func (noopWS) WriteJSON(v any) error                { return nil }
func (noopWS) Close() error                         { return nil }
func (noopWS) SetReadDeadline(t time.Time) error     { return nil }
func (noopWS) SetWriteDeadline(t time.Time) error    { return nil }
func (noopWS) SetPongHandler(h func(string) error)   {}

func newTestConnection(id, pageID, userID string) *Connection {
	c := newConnection(id, noopWS{})
	c.bind(pageID, userID)
	return c
}

func drain(t *testing.T, c *Connection) outboundFrame {
	t.Helper()
	select {
	case f := <-c.outbox:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return outboundFrame{}
	}
}

func TestHubSendToUserTargetsOnlyThatUser(t *testing.T) {
	h := NewHub(nil)
	alice := newTestConnection("a", "page-1", "alice")
	bob := newTestConnection("b", "page-1", "bob")
	h.Register("page-1", alice)
	h.Register("page-1", bob)

	h.SendToUser("page-1", "bob", collab.MsgError{Message: "hi"})

	frame := drain(t, bob)
	if frame.Type != "Error" {
		t.Errorf("expected Error frame, got %q", frame.Type)
	}
	select {
	case <-alice.outbox:
		t.Fatal("alice should not have received a frame addressed to bob")
	default:
	}
}

func TestHubBroadcastExceptSkipsSender(t *testing.T) {
	h := NewHub(nil)
	alice := newTestConnection("a", "page-1", "alice")
	bob := newTestConnection("b", "page-1", "bob")
	h.Register("page-1", alice)
	h.Register("page-1", bob)

	h.BroadcastExcept("page-1", "alice", collab.MsgUserLeft{UserID: "carol"})

	drain(t, bob)
	select {
	case <-alice.outbox:
		t.Fatal("alice should have been excluded")
	default:
	}
}

func TestHubBroadcastAllReachesEveryone(t *testing.T) {
	h := NewHub(nil)
	alice := newTestConnection("a", "page-1", "alice")
	bob := newTestConnection("b", "page-1", "bob")
	h.Register("page-1", alice)
	h.Register("page-1", bob)

	h.BroadcastAll("page-1", collab.MsgUserLeft{UserID: "carol"})

	drain(t, alice)
	drain(t, bob)
}

func TestHubUnregisterPrunesEmptyGroup(t *testing.T) {
	h := NewHub(nil)
	alice := newTestConnection("a", "page-1", "alice")
	h.Register("page-1", alice)
	h.Unregister("page-1", alice)

	if got := h.snapshotGroup("page-1"); len(got) != 0 {
		t.Errorf("expected empty group after unregister, got %d connections", len(got))
	}
}

func TestConnectionEnqueueDropsWhenFull(t *testing.T) {
	c := newConnection("a", noopWS{})
	for i := 0; i < outboxCapacity; i++ {
		c.enqueue(outboundFrame{Type: "filler"})
	}
	// one more than capacity must not block.
	done := make(chan struct{})
	go func() {
		c.enqueue(outboundFrame{Type: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full outbox")
	}
}
