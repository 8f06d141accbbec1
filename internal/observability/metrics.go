// Package observability wires specsync's Prometheus metrics and OpenTelemetry
// tracing. Grounded on pkg/observability/prometheus.go's
// registry-plus-collector-map shape and naming convention
// (component_operation_unit), narrowed from that file's generic
// any-metric-name exporter down to the fixed set specsync actually emits.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors specsync registers. Counters
// reset on process restart — there is no metrics persistence, matching the
// pattern table's open-question resolution (see DESIGN.md).
type Metrics struct {
	Registry *prometheus.Registry

	OperationsQueued    *prometheus.CounterVec
	OperationsCompleted *prometheus.CounterVec
	OperationsFailed    *prometheus.CounterVec
	ConflictsDetected   *prometheus.CounterVec
	ConflictsResolved   *prometheus.CounterVec
	RetryAttempts       prometheus.Counter
	QueueDepth          prometheus.Gauge
	ProcessingDuration  prometheus.Histogram
}

// NewMetrics constructs and registers every collector against a fresh
// registry, following the naming convention
// "specsync_<component>_<noun>_<unit>" in the teacher's
// MetricNamingConvention spirit.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OperationsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync", Subsystem: "queue", Name: "operations_queued_total",
			Help: "Operations admitted to the queue, by type.",
		}, []string{"type"}),
		OperationsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync", Subsystem: "queue", Name: "operations_completed_total",
			Help: "Operations that reached status=completed, by type.",
		}, []string{"type"}),
		OperationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync", Subsystem: "queue", Name: "operations_failed_total",
			Help: "Operations that reached terminal status=failed, by type.",
		}, []string{"type"}),
		ConflictsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync", Subsystem: "conflict", Name: "detected_total",
			Help: "Conflicts detected, by kind.",
		}, []string{"kind"}),
		ConflictsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync", Subsystem: "conflict", Name: "resolved_total",
			Help: "Conflicts resolved, by resolution.",
		}, []string{"resolution"}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "specsync", Subsystem: "retry", Name: "attempts_total",
			Help: "Operation retry attempts scheduled.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "specsync", Subsystem: "queue", Name: "depth",
			Help: "Current number of operations tracked by the queue.",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "specsync", Subsystem: "queue", Name: "processing_duration_ms",
			Help:    "Operation processing duration in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),
	}

	reg.MustRegister(
		m.OperationsQueued, m.OperationsCompleted, m.OperationsFailed,
		m.ConflictsDetected, m.ConflictsResolved, m.RetryAttempts,
		m.QueueDepth, m.ProcessingDuration,
	)
	return m
}
