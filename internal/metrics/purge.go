package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PurgeMetrics holds metrics for the purge queue.
type PurgeMetrics struct {
	// ItemsEnqueued counts purge items durably appended to the journal.
	ItemsEnqueued prometheus.Counter

	// ItemsExecuted counts purge items whose removal operations all
	// completed.
	ItemsExecuted prometheus.Counter

	// InFlight tracks the number of purge items currently executing.
	InFlight prometheus.Gauge

	// ExpirePos tracks the journal expire position, i.e. the offset up to
	// which the journal may be reclaimed.
	ExpirePos prometheus.Gauge

	// RemoveOps counts object removal sub-operations by kind and status.
	// Labels: kind (purge_range, backtrace, old_pool), status.
	RemoveOps *prometheus.CounterVec

	// PermanentFailures counts purge items with at least one removal
	// sub-operation that exhausted retries (one increment per item). The
	// queue still advances past them; this counter is the operator's
	// signal that objects may have been leaked.
	PermanentFailures prometheus.Counter

	// MalformedEntries counts journal entries that failed to decode.
	// Any increment here means the queue has halted.
	MalformedEntries prometheus.Counter
}

// Removal sub-operation kind label values.
const (
	RemoveKindRange     = "purge_range"
	RemoveKindBacktrace = "backtrace"
	RemoveKindOldPool   = "old_pool"
)

// NewPurgeMetrics creates and registers purge queue metrics.
// Uses promauto for automatic registration with the default registry.
func NewPurgeMetrics() *PurgeMetrics {
	return newPurgeMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewPurgeMetricsWithRegistry creates purge queue metrics registered with a
// custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewPurgeMetricsWithRegistry(reg prometheus.Registerer) *PurgeMetrics {
	return newPurgeMetrics(promauto.With(reg))
}

func newPurgeMetrics(factory promauto.Factory) *PurgeMetrics {
	return &PurgeMetrics{
		ItemsEnqueued: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coralfs",
				Subsystem: "purge",
				Name:      "items_enqueued_total",
				Help:      "Total purge items durably appended to the journal.",
			},
		),
		ItemsExecuted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coralfs",
				Subsystem: "purge",
				Name:      "items_executed_total",
				Help:      "Total purge items whose removal operations completed.",
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "coralfs",
				Subsystem: "purge",
				Name:      "in_flight",
				Help:      "Number of purge items currently executing against the object store.",
			},
		),
		ExpirePos: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "coralfs",
				Subsystem: "purge",
				Name:      "expire_pos",
				Help:      "Journal expire position (bytes); the log prefix up to here is reclaimable.",
			},
		),
		RemoveOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coralfs",
				Subsystem: "purge",
				Name:      "remove_ops_total",
				Help:      "Object removal sub-operations, broken down by kind and status.",
			},
			[]string{"kind", "status"},
		),
		PermanentFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coralfs",
				Subsystem: "purge",
				Name:      "permanent_failures_total",
				Help:      "Purge items with a removal sub-operation that exhausted retries, treated as purged.",
			},
		),
		MalformedEntries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coralfs",
				Subsystem: "purge",
				Name:      "malformed_entries_total",
				Help:      "Journal entries that failed to decode; consumption halts on the first.",
			},
		),
	}
}

// RecordRemoveOp records one removal sub-operation completion.
func (m *PurgeMetrics) RecordRemoveOp(kind string, success bool) {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.RemoveOps.WithLabelValues(kind, status).Inc()
}
