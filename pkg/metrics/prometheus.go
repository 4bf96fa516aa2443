package metrics

import (
	"fmt"
	"io"
	"time"
)

// PrometheusExporter exports Collector state in Prometheus text exposition format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		namespace: "wikicollab",
	}
}

// SetNamespace sets the metric namespace prefix.
func (pe *PrometheusExporter) SetNamespace(namespace string) {
	pe.namespace = namespace
}

// WriteMetrics writes all metrics in Prometheus text format to the writer.
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (pe *PrometheusExporter) WriteMetrics(w io.Writer) error {
	c := pe.collector

	uptime := time.Since(c.startTime).Seconds()
	if err := pe.writeGauge(w, "uptime_seconds", "Process uptime in seconds", uptime); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "operations_applied_total", "Operations applied to session history", c.operationsApplied.Load()); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "operations_rejected_total", "Operations rejected as malformed or unviable after transform", c.operationsRejected.Load()); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "operations_conflicted_total", "Operations rejected because the transformed form was inapplicable", c.operationsConflicted.Load()); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "transforms_total", "Transform calls made while replaying history", c.transformsRun.Load()); err != nil {
		return err
	}
	if err := pe.writeHistogram(w, "drain_duration_seconds", "Coordinator drain-step duration", c.drainTimings); err != nil {
		return err
	}
	if err := pe.writePercentiles(w, "drain_duration_seconds", c.drainTimings); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "crdt_updates_pushed_total", "CRDT updates accepted into the per-session log", c.updatesPushed.Load()); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "crdt_updates_oversized_total", "CRDT updates rejected for exceeding the size limit", c.updatesOversized.Load()); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "checkpoints_folded_total", "Checkpointer passes that produced a new checkpoint", c.checkpointsFolded.Load()); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "checkpoints_skipped_total", "Checkpointer passes skipped for lack of a full-state record", c.checkpointsSkipped.Load()); err != nil {
		return err
	}
	if err := pe.writeHistogram(w, "checkpoint_duration_seconds", "Checkpoint fold duration", c.checkpointTimings); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "commits_succeeded_total", "Successful Commit calls", c.commitsSucceeded.Load()); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "commits_failed_total", "Failed Commit calls", c.commitsFailed.Load()); err != nil {
		return err
	}

	if err := pe.writeGauge(w, "active_sessions", "Sessions currently Active or Idle", float64(c.activeSessions.Load())); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "active_connections", "Open hub connections", float64(c.activeConnections.Load())); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "connections_total", "Hub connections ever opened", c.totalConnections.Load()); err != nil {
		return err
	}

	return nil
}

func (pe *PrometheusExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n",
		metricName, help, metricName, metricName, value)
	return err
}

func (pe *PrometheusExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n",
		metricName, help, metricName, metricName, value)
	return err
}

func (pe *PrometheusExporter) writeHistogram(w io.Writer, name, help string, th *TimingHistogram) error {
	metricName := pe.namespace + "_" + name

	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", metricName, help, metricName); err != nil {
		return err
	}

	buckets := th.GetBuckets()
	var cumulative uint64

	for _, b := range []struct {
		key string
		le  string
	}{
		{"0-1ms", "0.001"},
		{"1-10ms", "0.01"},
		{"10-100ms", "0.1"},
		{"100-1000ms", "1.0"},
		{">1000ms", "+Inf"},
	} {
		cumulative += buckets[b.key]
		if _, err := fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", metricName, b.le, cumulative); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "%s_count %d\n", metricName, cumulative)
	return err
}

func (pe *PrometheusExporter) writePercentiles(w io.Writer, baseName string, th *TimingHistogram) error {
	percentiles := th.GetPercentiles()
	for _, p := range []string{"p50", "p95", "p99"} {
		if err := pe.writeGauge(w, baseName+"_"+p,
			fmt.Sprintf("%s percentile of %s", p, baseName),
			percentiles[p].Seconds()); err != nil {
			return err
		}
	}
	return nil
}
