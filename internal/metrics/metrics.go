// Package metrics defines the ingestion-specific Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"beacon/pkg/monitoring"
)

// IngestMetrics tracks the event pipeline from intake to backend write.
type IngestMetrics struct {
	// EventsTotal counts submissions by outcome (accepted, invalid,
	// unknown_app, locked, dropped)
	EventsTotal *prometheus.CounterVec

	// BufferSize tracks the current buffer fill level
	BufferSize *prometheus.GaugeVec

	// EventsDropped counts events lost to buffer overflow or exhausted
	// flush retries, by cause
	EventsDropped *prometheus.CounterVec

	// FlushDuration observes backend insert latency per flush
	FlushDuration *prometheus.HistogramVec

	// BackendInserts counts flush outcomes per backend
	BackendInserts *prometheus.CounterVec
}

// NewIngestMetrics registers the pipeline metrics on the collector.
func NewIngestMetrics(collector *monitoring.MetricsCollector) *IngestMetrics {
	return &IngestMetrics{
		EventsTotal: collector.NewCounter(
			"events_total",
			"Event submissions by outcome",
			[]string{"outcome"},
		),
		BufferSize: collector.NewGauge(
			"buffer_size",
			"Current number of buffered events",
			[]string{},
		),
		EventsDropped: collector.NewCounter(
			"events_dropped_total",
			"Events lost before reaching the backend",
			[]string{"cause"},
		),
		FlushDuration: collector.NewHistogram(
			"flush_duration_seconds",
			"Backend insert latency per flushed batch",
			[]string{"backend"},
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		),
		BackendInserts: collector.NewCounter(
			"backend_inserts_total",
			"Flush outcomes by backend and status",
			[]string{"backend", "status"},
		),
	}
}

// Outcome labels for EventsTotal
const (
	OutcomeAccepted   = "accepted"
	OutcomeInvalid    = "invalid"
	OutcomeUnknownApp = "unknown_app"
	OutcomeLocked     = "locked"
	OutcomeDropped    = "dropped"
)

// Cause labels for EventsDropped
const (
	CauseBufferFull  = "buffer_full"
	CauseFlushFailed = "flush_failed"
)
