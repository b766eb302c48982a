// internal/service/fulfillment/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dropflow",
		Subsystem: "fulfillment",
		Name:      "transitions_total",
		Help:      "Applied workflow state transitions.",
	}, []string{"from", "to", "event"})

	droppedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dropflow",
		Subsystem: "fulfillment",
		Name:      "dropped_events_total",
		Help:      "Events dropped without affecting the workflow.",
	}, []string{"reason"})

	persistenceConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dropflow",
		Subsystem: "fulfillment",
		Name:      "persistence_conflicts_total",
		Help:      "Optimistic version conflicts resolved by reload-and-reprocess.",
	})

	escalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dropflow",
		Subsystem: "fulfillment",
		Name:      "escalations_total",
		Help:      "Workflows escalated to manual intervention.",
	}, []string{"reason"})

	eventDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dropflow",
		Subsystem: "fulfillment",
		Name:      "event_processing_seconds",
		Help:      "End-to-end latency of processing one event through the serial lane.",
		Buckets:   prometheus.DefBuckets,
	})
)
