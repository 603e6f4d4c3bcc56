// Package api serves the HTTP surface of the notifier: enqueueing tasks,
// querying delivery records and task results, dead letter reprocessing,
// health probes and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/archive"
	"github.com/sungwon/enroll-notify/internal/auth"
	"github.com/sungwon/enroll-notify/internal/metrics"
	"github.com/sungwon/enroll-notify/internal/queue"
)

// RouterConfig holds the dependencies of the router. Producer, Records and
// Results are required; the rest are optional.
type RouterConfig struct {
	Producer Enqueuer
	Records  RecordReader
	Results  queue.ResultBackend
	// Archive serves archived messages; nil disables the message route.
	Archive archive.Archive
	// DLQ enables POST /api/v1/dlq/reprocess when non-nil.
	DLQ queue.DeadLetterQueue
	// Checks are pinged by /readyz.
	Checks map[string]Pinger
	// JWTService enables bearer-token auth and scope checks on /api/v1.
	JWTService *auth.JWTService
	// RateLimiter limits enqueue routes when non-nil.
	RateLimiter *auth.RateLimiter
	Log         zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))
	r.Use(MetricsMiddleware)

	// Health endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.Checks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	scope := func(string) func(http.Handler) http.Handler { return passthrough }
	if cfg.JWTService != nil {
		scope = auth.RequireScope
	}
	limit := passthrough
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Middleware(cfg.Log)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTService != nil {
			r.Use(auth.JWTAuth(cfg.JWTService))
		}

		// Enqueue
		r.Group(func(r chi.Router) {
			r.Use(scope(auth.ScopeEnqueue), limit)
			r.Post("/enrollments", EnqueueEnrollmentHandler(cfg.Producer))
			r.Post("/emails", EnqueueCustomHandler(cfg.Producer))
		})

		// Delivery records and results
		r.Group(func(r chi.Router) {
			r.Use(scope(auth.ScopeRead))
			r.Get("/deliveries/{task_id}", GetDeliveryHandler(cfg.Records))
			if cfg.Archive != nil {
				r.Get("/deliveries/{task_id}/message", GetDeliveryMessageHandler(cfg.Archive))
			}
			r.Get("/tasks/{task_id}/result", GetTaskResultHandler(cfg.Results))
		})

		// DLQ Reprocess
		if cfg.DLQ != nil {
			r.With(scope(auth.ScopeAdmin)).Post("/dlq/reprocess", DLQReprocessHandler(cfg.DLQ))
		}
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
