package metrics

import (
	"testing"
	"time"
)

func TestCollector_RecordDrain(t *testing.T) {
	c := NewCollector()

	c.RecordDrain(10*time.Millisecond, "applied")
	c.RecordDrain(20*time.Millisecond, "applied")
	c.RecordDrain(5*time.Millisecond, "conflict")
	c.RecordDrain(1*time.Millisecond, "rejected")

	snap := c.Snapshot()
	ops := snap["operations"].(map[string]interface{})

	if ops["applied"].(uint64) != 2 {
		t.Errorf("expected 2 applied, got %v", ops["applied"])
	}
	if ops["conflicted"].(uint64) != 1 {
		t.Errorf("expected 1 conflicted, got %v", ops["conflicted"])
	}
	if ops["rejected"].(uint64) != 1 {
		t.Errorf("expected 1 rejected, got %v", ops["rejected"])
	}
}

func TestCollector_CheckpointAndCommit(t *testing.T) {
	c := NewCollector()

	c.RecordCheckpoint(5*time.Millisecond, true)
	c.RecordCheckpoint(1*time.Millisecond, false)
	c.RecordCommit(true)
	c.RecordCommit(false)
	c.RecordCommit(true)

	snap := c.Snapshot()
	crdt := snap["crdt"].(map[string]interface{})
	commits := snap["commits"].(map[string]interface{})

	if crdt["checkpoints_folded"].(uint64) != 1 {
		t.Errorf("expected 1 folded checkpoint, got %v", crdt["checkpoints_folded"])
	}
	if crdt["checkpoints_skipped"].(uint64) != 1 {
		t.Errorf("expected 1 skipped checkpoint, got %v", crdt["checkpoints_skipped"])
	}
	if commits["succeeded"].(uint64) != 2 {
		t.Errorf("expected 2 succeeded commits, got %v", commits["succeeded"])
	}
	if commits["failed"].(uint64) != 1 {
		t.Errorf("expected 1 failed commit, got %v", commits["failed"])
	}
}

func TestCollector_SessionAndConnectionLifecycle(t *testing.T) {
	c := NewCollector()

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	snap := c.Snapshot()
	conns := snap["connections"].(map[string]interface{})

	if conns["active_sessions"].(uint64) != 1 {
		t.Errorf("expected 1 active session, got %v", conns["active_sessions"])
	}
	if conns["active_connections"].(uint64) != 2 {
		t.Errorf("expected 2 active connections, got %v", conns["active_connections"])
	}
	if conns["total_connections"].(uint64) != 3 {
		t.Errorf("expected 3 total connections, got %v", conns["total_connections"])
	}
}

func TestTimingHistogram_Percentiles(t *testing.T) {
	th := NewTimingHistogram(100)
	for i := 1; i <= 100; i++ {
		th.Record(time.Duration(i) * time.Millisecond)
	}

	p := th.GetPercentiles()
	if p["p50"] < 45*time.Millisecond || p["p50"] > 55*time.Millisecond {
		t.Errorf("expected p50 near 50ms, got %v", p["p50"])
	}
	if p["p99"] < 95*time.Millisecond {
		t.Errorf("expected p99 near 99ms, got %v", p["p99"])
	}
}
