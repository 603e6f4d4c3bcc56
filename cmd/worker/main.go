package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/api"
	"github.com/sungwon/enroll-notify/internal/archive"
	"github.com/sungwon/enroll-notify/internal/config"
	"github.com/sungwon/enroll-notify/internal/dispatcher"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/metrics"
	"github.com/sungwon/enroll-notify/internal/queue"
	"github.com/sungwon/enroll-notify/internal/record"
	"github.com/sungwon/enroll-notify/internal/render"
	"github.com/sungwon/enroll-notify/internal/transport"
)

const poolStatsInterval = 15 * time.Second

func main() {
	cfg, err := config.Load(configDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Logging.Logger())
	log.Info().Msg("starting notification worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Delivery record store. Bootstrap runs in the background so that task
	// consumption never waits on the database.
	store, err := record.Open(cfg.Tracking.Store, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open delivery record store")
	}
	pg, _ := store.(*record.PostgresStore)
	if pg != nil {
		defer pg.Close()
		go func() {
			if err := pg.Bootstrap(ctx); err != nil {
				log.Error().Err(err).Msg("delivery record store bootstrap failed; tracking writes will be retried lazily")
			}
		}()
		go observePool(ctx, pg)
	}

	renderer, err := render.New(cfg.Company)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load templates")
	}

	tr, err := transport.New(cfg.SMTP, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create mail transport")
	}
	checkCtx, cancel := context.WithTimeout(ctx, cfg.SMTP.Timeout)
	if err := tr.HealthCheck(checkCtx); err != nil {
		log.Warn().Err(err).Str("transport", tr.Name()).Msg("mail transport not reachable at startup")
	}
	cancel()

	arch, err := archive.New(ctx, cfg.Archive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create message archive")
	}

	results := queue.NewRedisResultBackend(cfg.Results)
	defer results.Close()

	d := dispatcher.New(store, renderer, tr, arch, dispatcher.Config{
		FromEmail:              cfg.SMTP.FromEmail,
		FromName:               cfg.SMTP.FromName,
		RetryTransientFailures: cfg.Queue.RetryTransientFailures,
		TrackingTimeout:        cfg.Database.WriteTimeout,
	}, log)

	mux := queue.NewMux()
	d.Register(mux)

	q, err := queue.NewQueue(ctx, cfg.Queue, mux, results, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue")
	}
	defer q.Close()

	if err := q.Dequeuer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start consumers")
	}
	log.Info().
		Str("queue", cfg.Queue.Type).
		Int("workers", cfg.Queue.WorkerCount).
		Strs("tasks", mux.Names()).
		Str("transport", tr.Name()).
		Str("tracking_store", cfg.Tracking.Store).
		Msg("notification worker started")

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		checks := map[string]api.Pinger{"results": results}
		if p, ok := q.Enqueuer.(queue.Pinger); ok {
			checks["queue"] = p
		}
		if pg != nil {
			checks["database"] = pg
		}
		metricsSrv = startMetricsServer(cfg.Metrics.Addr, checks, log)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down notification worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := q.Dequeuer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("consumers did not stop cleanly")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	log.Info().Msg("notification worker stopped")
}

// configDir returns the directory holding config.yaml.
func configDir() string {
	if dir := os.Getenv("ENROLL_NOTIFY_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "config"
}

// startMetricsServer serves /metrics, /healthz and /readyz on addr.
func startMetricsServer(addr string, checks map[string]api.Pinger, log zerolog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", api.HealthzHandler())
	r.Get("/readyz", api.ReadyzHandler(checks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	return srv
}

func observePool(ctx context.Context, pg *record.PostgresStore) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pg.ObservePool()
		}
	}
}
