// Package metrics provides Prometheus metrics for the PlasmoSync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilePassesTotal tracks reconciliation passes by outcome
	ReconcilePassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Total number of reconciliation passes by outcome",
		},
		[]string{"guild_id", "outcome"},
	)

	// ReconcilePassDuration tracks reconciliation pass duration in seconds
	ReconcilePassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plasmosync",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"guild_id"},
	)

	// OperationsTotal tracks corrective operations by category, kind and outcome
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "dispatch",
			Name:      "operations_total",
			Help:      "Total number of corrective operations by outcome",
		},
		[]string{"category", "kind", "outcome"},
	)

	// OperationRetriesTotal tracks transient retries of corrective operations
	OperationRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "dispatch",
			Name:      "operation_retries_total",
			Help:      "Total number of transient retries during operation dispatch",
		},
		[]string{"category"},
	)

	// OperationsInFlight tracks operations currently being executed
	OperationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "plasmosync",
			Subsystem: "dispatch",
			Name:      "operations_in_flight",
			Help:      "Number of corrective operations currently in flight",
		},
	)

	// RateLimitWaitTime tracks time spent waiting for rate budget tokens
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plasmosync",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate budget in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"system"},
	)

	// QueueJobsProcessed tracks reconcile jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of reconcile jobs processed from the queue",
		},
		[]string{"status"},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"reason"},
	)

	// SweepEntitiesScheduled tracks entities enqueued by full sweeps
	SweepEntitiesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "scheduler",
			Name:      "entities_scheduled_total",
			Help:      "Total number of entities enqueued by full sweeps",
		},
	)

	// IngressEventsTotal tracks normalized change events by origin and status
	IngressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "ingress",
			Name:      "events_total",
			Help:      "Total number of change notifications by origin and status",
		},
		[]string{"origin", "status"},
	)

	// PendingLinkDropped tracks unresolved notifications dropped after TTL
	PendingLinkDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "ingress",
			Name:      "pending_link_dropped_total",
			Help:      "Total number of unresolved notifications dropped after TTL",
		},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests to the platforms
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// APIRequestsTotal tracks inbound requests to the control surface
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of inbound API requests",
		},
		[]string{"method", "status_code"},
	)

	// KafkaMessagesPublished tracks sync outcome events published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plasmosync",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordReconcilePass records a reconciliation pass metric
func RecordReconcilePass(guildID, outcome string, durationSeconds float64) {
	ReconcilePassesTotal.WithLabelValues(guildID, outcome).Inc()
	ReconcilePassDuration.WithLabelValues(guildID).Observe(durationSeconds)
}

// RecordOperation records a corrective operation outcome
func RecordOperation(category, kind, outcome string) {
	OperationsTotal.WithLabelValues(category, kind, outcome).Inc()
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(reason string) {
	DLQJobsTotal.WithLabelValues(reason).Inc()
}

// RecordIngressEvent records a normalized change notification
func RecordIngressEvent(origin, status string) {
	IngressEventsTotal.WithLabelValues(origin, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
