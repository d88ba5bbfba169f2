package observability

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// CheckMetrics is the snapshot exported after every cycle.
type CheckMetrics struct {
	Cycles               int64
	Successes            int64
	Failures             int64
	Changes              int64
	NotificationFailures int64
	LastAttempts         int
	LastSuccess          bool
	LastCheck            time.Time
	NextRun              time.Time
}

// MetricsWriter renders CheckMetrics in the node_exporter textfile format.
type MetricsWriter struct {
	path    string
	service string
}

// NewMetricsWriter returns nil when path is empty so callers can skip it.
func NewMetricsWriter(path, service string) *MetricsWriter {
	if path == "" {
		return nil
	}
	return &MetricsWriter{path: path, service: service}
}

// Write replaces the textfile atomically.
func (w *MetricsWriter) Write(m CheckMetrics) error {
	if w == nil {
		return nil
	}
	var buf bytes.Buffer
	for _, mf := range w.families(m) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".statuswatch-*.prom")
	if err != nil {
		return fmt.Errorf("create temp metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metrics: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod metrics: %w", err)
	}
	return os.Rename(tmp.Name(), w.path)
}

func (w *MetricsWriter) families(m CheckMetrics) []*dto.MetricFamily {
	labels := []*dto.LabelPair{{Name: strPtr("service"), Value: strPtr(w.service)}}
	success := 0.0
	if m.LastSuccess {
		success = 1
	}
	var lastCheck, nextRun float64
	if !m.LastCheck.IsZero() {
		lastCheck = float64(m.LastCheck.Unix())
	}
	if !m.NextRun.IsZero() {
		nextRun = float64(m.NextRun.Unix())
	}
	return []*dto.MetricFamily{
		counter("statuswatch_cycles_total", "Check cycles started.", labels, m.Cycles),
		counter("statuswatch_cycle_successes_total", "Cycles that extracted a status.", labels, m.Successes),
		counter("statuswatch_cycle_failures_total", "Cycles that exhausted every attempt.", labels, m.Failures),
		counter("statuswatch_status_changes_total", "Observed status changes.", labels, m.Changes),
		counter("statuswatch_notification_failures_total", "Status changes whose notification failed.", labels, m.NotificationFailures),
		gauge("statuswatch_last_cycle_success", "1 if the last cycle succeeded.", labels, success),
		gauge("statuswatch_last_cycle_attempts", "Attempts used by the last cycle.", labels, float64(m.LastAttempts)),
		gauge("statuswatch_last_check_timestamp_seconds", "Unix time of the last finished cycle.", labels, lastCheck),
		gauge("statuswatch_next_check_timestamp_seconds", "Unix time of the next scheduled cycle.", labels, nextRun),
	}
}

func counter(name, help string, labels []*dto.LabelPair, v int64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: strPtr(name),
		Help: strPtr(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Label:   labels,
			Counter: &dto.Counter{Value: floatPtr(float64(v))},
		}},
	}
}

func gauge(name, help string, labels []*dto.LabelPair, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: strPtr(name),
		Help: strPtr(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Label: labels,
			Gauge: &dto.Gauge{Value: floatPtr(v)},
		}},
	}
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
