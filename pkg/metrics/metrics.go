package metrics

import (
	"sync"
	"time"

	"github.com/otwiki/collab/pkg/concurrent"
)

// Collector collects real-time operational metrics for the collaboration core.
type Collector struct {
	// OT pipeline (C2/C4)
	operationsApplied    concurrent.Counter
	operationsRejected   concurrent.Counter
	operationsConflicted concurrent.Counter
	transformsRun        concurrent.Counter
	totalDrainTime       concurrent.Counter // nanoseconds spent in drain steps

	// CRDT pipeline (C5/C6)
	updatesPushed      concurrent.Counter
	updatesOversized   concurrent.Counter
	checkpointsFolded  concurrent.Counter
	checkpointsSkipped concurrent.Counter

	// Commits (C7)
	commitsSucceeded concurrent.Counter
	commitsFailed    concurrent.Counter

	// Presence / connections (C8)
	activeSessions    concurrent.Counter
	activeConnections concurrent.Counter
	totalConnections  concurrent.Counter

	mu                sync.RWMutex
	drainTimings      *TimingHistogram
	checkpointTimings *TimingHistogram

	startTime time.Time
}

// TimingHistogram stores timing data in buckets for histogram generation.
type TimingHistogram struct {
	bucket0_1ms      concurrent.Counter // 0-1ms
	bucket1_10ms     concurrent.Counter // 1-10ms
	bucket10_100ms   concurrent.Counter // 10-100ms
	bucket100_1000ms concurrent.Counter // 100-1000ms
	bucket1000ms     concurrent.Counter // >1s

	mu               sync.Mutex
	recentTimings    []time.Duration
	maxRecentTimings int
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		drainTimings:      NewTimingHistogram(1000),
		checkpointTimings: NewTimingHistogram(1000),
		startTime:         time.Now(),
	}
}

// NewTimingHistogram creates a new timing histogram retaining up to maxRecent samples.
func NewTimingHistogram(maxRecent int) *TimingHistogram {
	return &TimingHistogram{
		recentTimings:    make([]time.Duration, 0, maxRecent),
		maxRecentTimings: maxRecent,
	}
}

// RecordDrain records one coordinator drain step (§4.4 steps 1-8).
func (c *Collector) RecordDrain(d time.Duration, outcome string) {
	c.totalDrainTime.Add(uint64(d.Nanoseconds()))
	c.drainTimings.Record(d)
	switch outcome {
	case "applied":
		c.operationsApplied.Inc()
	case "rejected":
		c.operationsRejected.Inc()
	case "conflict":
		c.operationsConflicted.Inc()
	}
}

// RecordTransform counts a single Transform call made while walking history (§4.2).
func (c *Collector) RecordTransform() {
	c.transformsRun.Inc()
}

// RecordUpdatePushed counts a CRDTUpdate accepted by the log (C5).
func (c *Collector) RecordUpdatePushed() {
	c.updatesPushed.Inc()
}

// RecordUpdateOversized counts a Push rejected for exceeding MAX_UPDATE_BYTES.
func (c *Collector) RecordUpdateOversized() {
	c.updatesOversized.Inc()
}

// RecordCheckpoint records a checkpointer pass outcome (C6).
func (c *Collector) RecordCheckpoint(d time.Duration, folded bool) {
	c.checkpointTimings.Record(d)
	if folded {
		c.checkpointsFolded.Inc()
	} else {
		c.checkpointsSkipped.Inc()
	}
}

// RecordCommit records a committer outcome (C7).
func (c *Collector) RecordCommit(success bool) {
	if success {
		c.commitsSucceeded.Inc()
	} else {
		c.commitsFailed.Inc()
	}
}

// SessionOpened tracks a session entering the Active state (§4.4 state machine).
func (c *Collector) SessionOpened() { c.activeSessions.Inc() }

// SessionClosed tracks a session being reclaimed.
func (c *Collector) SessionClosed() { c.activeSessions.Dec() }

// ConnectionOpened tracks a hub connection being established (C8).
func (c *Collector) ConnectionOpened() {
	c.totalConnections.Inc()
	c.activeConnections.Inc()
}

// ConnectionClosed tracks a hub connection closing.
func (c *Collector) ConnectionClosed() {
	c.activeConnections.Dec()
}

// Record adds a timing sample to the histogram.
func (th *TimingHistogram) Record(duration time.Duration) {
	ms := duration.Milliseconds()
	switch {
	case ms < 1:
		th.bucket0_1ms.Inc()
	case ms < 10:
		th.bucket1_10ms.Inc()
	case ms < 100:
		th.bucket10_100ms.Inc()
	case ms < 1000:
		th.bucket100_1000ms.Inc()
	default:
		th.bucket1000ms.Inc()
	}

	th.mu.Lock()
	defer th.mu.Unlock()
	if len(th.recentTimings) >= th.maxRecentTimings {
		th.recentTimings = th.recentTimings[1:]
	}
	th.recentTimings = append(th.recentTimings, duration)
}

// GetBuckets returns the histogram bucket counts.
func (th *TimingHistogram) GetBuckets() map[string]uint64 {
	return map[string]uint64{
		"0-1ms":      th.bucket0_1ms.Load(),
		"1-10ms":     th.bucket1_10ms.Load(),
		"10-100ms":   th.bucket10_100ms.Load(),
		"100-1000ms": th.bucket100_1000ms.Load(),
		">1000ms":    th.bucket1000ms.Load(),
	}
}

// GetPercentiles calculates P50, P95, P99 from recent timings.
func (th *TimingHistogram) GetPercentiles() map[string]time.Duration {
	th.mu.Lock()
	defer th.mu.Unlock()

	if len(th.recentTimings) == 0 {
		return map[string]time.Duration{"p50": 0, "p95": 0, "p99": 0}
	}

	sorted := make([]time.Duration, len(th.recentTimings))
	copy(sorted, th.recentTimings)
	for i := 1; i < len(sorted); i++ {
		key := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > key {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = key
	}

	p50 := len(sorted) * 50 / 100
	p95 := len(sorted) * 95 / 100
	p99 := len(sorted) * 99 / 100
	return map[string]time.Duration{
		"p50": sorted[p50],
		"p95": sorted[p95],
		"p99": sorted[p99],
	}
}

// Snapshot returns a point-in-time view of all counters, keyed for easy JSON/template use.
func (c *Collector) Snapshot() map[string]interface{} {
	applied := c.operationsApplied.Load()
	rejected := c.operationsRejected.Load()
	conflicted := c.operationsConflicted.Load()

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.startTime).Seconds(),
		"operations": map[string]interface{}{
			"applied":             applied,
			"rejected":            rejected,
			"conflicted":          conflicted,
			"transforms_run":      c.transformsRun.Load(),
			"drain_timing_p":      c.drainTimings.GetPercentiles(),
			"drain_timing_bucket": c.drainTimings.GetBuckets(),
		},
		"crdt": map[string]interface{}{
			"updates_pushed":      c.updatesPushed.Load(),
			"updates_oversized":   c.updatesOversized.Load(),
			"checkpoints_folded":  c.checkpointsFolded.Load(),
			"checkpoints_skipped": c.checkpointsSkipped.Load(),
			"checkpoint_timing_p": c.checkpointTimings.GetPercentiles(),
		},
		"commits": map[string]interface{}{
			"succeeded": c.commitsSucceeded.Load(),
			"failed":    c.commitsFailed.Load(),
		},
		"connections": map[string]interface{}{
			"active_sessions":    c.activeSessions.Load(),
			"active_connections": c.activeConnections.Load(),
			"total_connections":  c.totalConnections.Load(),
		},
	}
}
