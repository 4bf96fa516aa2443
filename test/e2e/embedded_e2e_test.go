package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/compression"
	"github.com/otwiki/collab/pkg/crdt"
	"github.com/otwiki/collab/pkg/metrics"
	"github.com/otwiki/collab/pkg/store"
)

// allowAllAuthorizer lets every edit through, standing in for a real
// permission backend in tests that only exercise the collaboration core.
type allowAllAuthorizer struct{}

func (allowAllAuthorizer) EnsureCanEdit(ctx context.Context, userID, pageID string) error {
	return nil
}

// noopBroadcaster discards every fan-out call; these tests drive the
// coordinator directly and don't care who would have received what.
type noopBroadcaster struct{}

func (noopBroadcaster) SendToUser(pageID, userID string, msg collab.OutboundMessage)     {}
func (noopBroadcaster) BroadcastExcept(pageID, except string, msg collab.OutboundMessage) {}
func (noopBroadcaster) BroadcastAll(pageID string, msg collab.OutboundMessage)            {}

// TestEmbeddedFullWorkflow drives the OT pipeline, the CRDT checkpoint
// pipeline, and the durable page store entirely in-process, the way a
// caller embedding pkg/collab and pkg/crdt as libraries would, with no
// HTTP or websocket layer involved at all.
func TestEmbeddedFullWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	pages := store.NewMemoryStore(64, time.Minute)
	pages.SeedPage(store.Page{ID: "home", Title: "Welcome", Body: "Hello, wiki."})

	t.Run("OTSessionLifecycle", func(t *testing.T) {
		testEmbeddedOTSessionLifecycle(t, pages)
	})

	t.Run("OTConcurrentEdits", func(t *testing.T) {
		testEmbeddedOTConcurrentEdits(t, pages)
	})

	t.Run("CRDTCheckpointAndCommit", func(t *testing.T) {
		testEmbeddedCRDTCheckpointAndCommit(t, pages)
	})
}

func testEmbeddedOTSessionLifecycle(t *testing.T, pages *store.MemoryStore) {
	collector := metrics.NewCollector()
	coordinator := collab.NewCoordinator(collab.DefaultConfig(), pages, allowAllAuthorizer{}, noopBroadcaster{}, collector)
	ctx := context.Background()

	doc, users, err := coordinator.Join(ctx, "home", "u1", "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if doc.Content != "Hello, wiki." {
		t.Errorf("expected seeded content, got %q", doc.Content)
	}
	if len(users) != 1 {
		t.Errorf("expected 1 connected user, got %d", len(users))
	}

	if coordinator.SessionCount() != 1 {
		t.Errorf("expected 1 open session, got %d", coordinator.SessionCount())
	}

	coordinator.Leave(ctx, "home", "u1")
	present, ok := coordinator.Presence("home")
	if !ok {
		t.Fatal("expected the session to still exist immediately after the last user leaves")
	}
	if len(present) != 0 {
		t.Errorf("expected no present users after leaving, got %d", len(present))
	}
}

func testEmbeddedOTConcurrentEdits(t *testing.T, pages *store.MemoryStore) {
	pages.SeedPage(store.Page{ID: "concurrent", Title: "Concurrent", Body: "0123456789"})
	collector := metrics.NewCollector()
	coordinator := collab.NewCoordinator(collab.DefaultConfig(), pages, allowAllAuthorizer{}, noopBroadcaster{}, collector)
	ctx := context.Background()

	if _, _, err := coordinator.Join(ctx, "concurrent", "u1", "Ada", ""); err != nil {
		t.Fatalf("Join u1 failed: %v", err)
	}
	if _, _, err := coordinator.Join(ctx, "concurrent", "u2", "Bob", ""); err != nil {
		t.Fatalf("Join u2 failed: %v", err)
	}

	done := make(chan error, 2)
	go func() {
		done <- coordinator.SubmitOperation(ctx, "concurrent", collab.Operation{
			Kind: collab.KindInsert, Position: 0, Content: "A", UserID: "u1",
			ExpectedSequenceNumber: 0,
		})
	}()
	go func() {
		done <- coordinator.SubmitOperation(ctx, "concurrent", collab.Operation{
			Kind: collab.KindInsert, Position: 10, Content: "Z", UserID: "u2",
			ExpectedSequenceNumber: 0,
		})
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent operation failed: %v", err)
		}
	}

	// SubmitOperation only enqueues onto the page's drain loop; wait for
	// both operations to actually apply before inspecting content.
	deadline := time.Now().Add(2 * time.Second)
	var snapshot collab.DocumentState
	for time.Now().Before(deadline) {
		s, ok := coordinator.Snapshot("concurrent")
		if !ok {
			t.Fatal("expected a live session snapshot")
		}
		snapshot = s
		if len(snapshot.Content) == 12 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(snapshot.Content) != 12 {
		t.Errorf("expected both concurrent inserts to land, got content %q", snapshot.Content)
	}
}

func testEmbeddedCRDTCheckpointAndCommit(t *testing.T, pages *store.MemoryStore) {
	pages.SeedPage(store.Page{ID: "crdt-home", Title: "CRDT Home", Body: ""})

	collector := metrics.NewCollector()
	cfg := collab.DefaultConfig()
	cfg.CheckpointMaxUpdates = 2

	compressor, err := compression.NewCompressor(compression.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to build compressor: %v", err)
	}

	crdtLog := crdt.NewLog(cfg, collector)
	checkpointer := crdt.NewCheckpointer(crdtLog, compressor, collector, cfg.CheckpointMaxUpdates, cfg.CheckpointMaxSeconds)
	committer := crdt.NewCommitter(crdtLog, checkpointer, pages, store.LogActivityLogger{})

	ctx := context.Background()
	session := crdtLog.OpenSession("crdt-home")
	if session.SessionID == "" {
		t.Fatal("expected a non-empty session id")
	}

	contentUpdates := []string{
		`{"type":"content_update","content":{"blocks":[{"type":"heading","text":"CRDT Home"}]}}`,
		`{"type":"content_update","content":{"blocks":[{"type":"heading","text":"CRDT Home"},{"type":"paragraph","text":"First draft."}]}}`,
		`{"type":"content_update","content":{"blocks":[{"type":"heading","text":"CRDT Home"},{"type":"paragraph","text":"Second draft, now with more detail."}]}}`,
	}
	for i, update := range contentUpdates {
		if _, err := crdtLog.Push(session.SessionID, "client-1", []byte(update), ""); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}

	if _, err := checkpointer.ForceCheckpoint(session.SessionID); err != nil {
		t.Fatalf("checkpoint fold failed: %v", err)
	}

	if _, err := committer.Commit(ctx, "crdt-home", "u1", "initial draft"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	rev, ok := pages.LatestRevision("crdt-home")
	if !ok {
		t.Fatal("expected a revision after commit")
	}
	if rev.Author != "u1" {
		t.Errorf("expected revision author u1, got %q", rev.Author)
	}

	page, err := pages.GetPage(ctx, "crdt-home")
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if page.HasUncommittedChanges {
		t.Error("expected no uncommitted changes immediately after commit")
	}
}
