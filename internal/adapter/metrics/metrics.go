package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReconcileMetrics holds all Prometheus metrics for reconciliation runs.
type ReconcileMetrics struct {
	LinesTotal      *prometheus.CounterVec
	CandidatesTotal *prometheus.CounterVec
	UnitsTotal      *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	UnitsInFlight   prometheus.Gauge
	CheckpointIndex prometheus.Gauge
	HeapInUseBytes  prometheus.Gauge
}

// NewReconcileMetrics initializes the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	factory := promauto.With(reg)
	return &ReconcileMetrics{
		LinesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardrecon",
			Subsystem: "logstream",
			Name:      "lines_total",
			Help:      "Total number of log lines read by status.",
		}, []string{"status"}), // status: parsed, parse_error
		CandidatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardrecon",
			Subsystem: "report",
			Name:      "candidates_total",
			Help:      "Total number of candidates by pipeline stage.",
		}, []string{"stage"}), // stage: extracted, deduplicated, resolved_reuse, resolved_ledger, emitted
		UnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardrecon",
			Subsystem: "batch",
			Name:      "units_total",
			Help:      "Total number of verification units by terminal state.",
		}, []string{"state"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cardrecon",
			Subsystem: "batch",
			Name:      "query_duration_seconds",
			Help:      "Duration of targeted log searches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		UnitsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cardrecon",
			Subsystem: "batch",
			Name:      "units_in_flight",
			Help:      "Number of verification units currently running.",
		}),
		CheckpointIndex: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cardrecon",
			Subsystem: "batch",
			Name:      "checkpoint_index",
			Help:      "Index up to which the current batch has committed progress.",
		}),
		HeapInUseBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cardrecon",
			Subsystem: "logstream",
			Name:      "heap_inuse_bytes",
			Help:      "Heap in use at the last progress report.",
		}),
	}
}
