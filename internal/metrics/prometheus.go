// Package metrics holds the process-level Prometheus collectors shared by the
// binaries: the smtp sink, the HTTP API and the Postgres pool. Queue and
// dispatcher metrics live next to the code that records them.
package metrics

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SMTP sink metrics
var (
	SMTPConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp_sink_connections_total",
			Help: "Total number of SMTP sink connections",
		},
		[]string{"status"}, // accepted, rejected
	)

	SMTPActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smtp_sink_active_sessions",
			Help: "Number of currently active SMTP sink sessions",
		},
	)

	SMTPAuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp_sink_auth_attempts_total",
			Help: "Total number of SMTP sink authentication attempts",
		},
		[]string{"result"}, // success, failure
	)

	SMTPMessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp_sink_messages_received_total",
			Help: "Total number of messages received by the SMTP sink",
		},
		[]string{"result"}, // stored, rejected
	)

	SMTPMessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smtp_sink_message_size_bytes",
			Help:    "Size of messages received by the SMTP sink",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_auth_failures_total",
			Help: "Total number of API authentication failures",
		},
	)
)

// Database metrics
var (
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"query"},
	)
)

// ObserveQuery records the duration of a query started at start and counts
// it as an error when err is non-nil.
func ObserveQuery(query string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		DBErrorsTotal.WithLabelValues(query).Inc()
	}
}

// ObservePool copies the connection counts of pool into the DB gauges.
func ObservePool(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	stat := pool.Stat()
	DBConnectionsActive.Set(float64(stat.AcquiredConns()))
	DBConnectionsIdle.Set(float64(stat.IdleConns()))
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
