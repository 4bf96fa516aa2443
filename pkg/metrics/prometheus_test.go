package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPrometheusExporter_BasicMetrics(t *testing.T) {
	collector := NewCollector()
	exporter := NewPrometheusExporter(collector)

	collector.RecordDrain(100*time.Millisecond, "applied")
	collector.RecordDrain(10*time.Millisecond, "conflict")
	collector.RecordCheckpoint(50*time.Millisecond, true)
	collector.RecordCommit(true)
	collector.SessionOpened()
	collector.ConnectionOpened()

	var buf bytes.Buffer
	if err := exporter.WriteMetrics(&buf); err != nil {
		t.Fatalf("failed to write metrics: %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"# TYPE wikicollab_operations_applied_total counter",
		"# TYPE wikicollab_operations_conflicted_total counter",
		"# TYPE wikicollab_checkpoints_folded_total counter",
		"# TYPE wikicollab_commits_succeeded_total counter",
		"# TYPE wikicollab_active_sessions gauge",
		"# TYPE wikicollab_active_connections gauge",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("missing %q in exported metrics", want)
		}
	}
}

func TestPrometheusExporter_Namespace(t *testing.T) {
	collector := NewCollector()
	exporter := NewPrometheusExporter(collector)
	exporter.SetNamespace("custom")

	var buf bytes.Buffer
	if err := exporter.WriteMetrics(&buf); err != nil {
		t.Fatalf("failed to write metrics: %v", err)
	}

	if !strings.Contains(buf.String(), "custom_uptime_seconds") {
		t.Error("expected custom namespace prefix on exported metric names")
	}
}
