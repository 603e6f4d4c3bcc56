package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_tasks_enqueued_total",
			Help: "Total number of tasks enqueued by task name",
		},
		[]string{"task"},
	)

	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_tasks_processed_total",
			Help: "Total number of task executions by task name and final state",
		},
		[]string{"task", "state"}, // SUCCESS, FAILURE, RETRY
	)

	TaskProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_task_processing_duration_seconds",
			Help:    "Duration of task handler executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	TasksReclaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_tasks_reclaimed_total",
			Help: "Total number of stale pending entries reclaimed from other consumers",
		},
		[]string{"task"},
	)

	DLQMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dlq_messages_total",
			Help: "Total number of tasks moved to the dead letter queue",
		},
		[]string{"task"},
	)

	ResultWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_result_write_failures_total",
			Help: "Total number of task results that could not be stored",
		},
	)
)
