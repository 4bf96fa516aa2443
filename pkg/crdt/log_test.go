package crdt

import (
	"testing"

	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/metrics"
)

func testConfig() *collab.Config {
	cfg := collab.DefaultConfig()
	cfg.MaxUpdateBytes = 256
	cfg.CheckpointMaxUpdates = 3
	return cfg
}

func TestLogPushAssignsMonotonicIDs(t *testing.T) {
	l := NewLog(testConfig(), metrics.NewCollector())
	s := l.OpenSession("page-1")

	id1, err := l.Push(s.SessionID, "client-a", []byte(`{"type":"content_update","content":{}}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := l.Push(s.SessionID, "client-a", []byte(`{"type":"content_update","content":{}}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != 1 || id2 != 2 {
		t.Errorf("expected ids 1, 2, got %d, %d", id1, id2)
	}
}

func TestLogPushRejectsOversizedUpdate(t *testing.T) {
	l := NewLog(testConfig(), metrics.NewCollector())
	s := l.OpenSession("page-1")

	big := make([]byte, 1000)
	_, err := l.Push(s.SessionID, "client-a", big, "")
	if err != collab.ErrOversize {
		t.Errorf("expected ErrOversize, got %v", err)
	}
}

func TestLogGetSince(t *testing.T) {
	l := NewLog(testConfig(), metrics.NewCollector())
	s := l.OpenSession("page-1")

	for i := 0; i < 3; i++ {
		l.Push(s.SessionID, "client-a", []byte(`{}`), "")
	}

	updates, ok := l.GetSince(s.SessionID, 1)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates since id 1, got %d", len(updates))
	}
	if updates[0].ID != 2 || updates[1].ID != 3 {
		t.Errorf("unexpected update ids: %+v", updates)
	}
}

func TestLogOpenSessionReusesOpenSession(t *testing.T) {
	l := NewLog(testConfig(), metrics.NewCollector())
	s1 := l.OpenSession("page-1")
	s2 := l.OpenSession("page-1")
	if s1.SessionID != s2.SessionID {
		t.Error("expected the same session for repeated opens of the same page")
	}
}

func TestLogCloseSessionAllowsFreshOpen(t *testing.T) {
	l := NewLog(testConfig(), metrics.NewCollector())
	s1 := l.OpenSession("page-1")
	l.CloseSession(s1.SessionID)
	s2 := l.OpenSession("page-1")
	if s1.SessionID == s2.SessionID {
		t.Error("expected a fresh session after closing the prior one")
	}
}
