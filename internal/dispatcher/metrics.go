package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatcher metrics for Prometheus monitoring.
var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Total number of delivery attempts by task name and outcome",
		},
		[]string{"task", "status"}, // sent, failed
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_send_duration_seconds",
			Help:    "Duration of mail transport submissions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	TrackingWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_write_failures_total",
			Help: "Total number of delivery record writes that failed and were skipped",
		},
		[]string{"op"}, // upsert_pending, mark_sent, mark_failed
	)

	ArchiveWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_archive_write_failures_total",
			Help: "Total number of composed messages that could not be archived",
		},
	)
)
