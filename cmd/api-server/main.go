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

	"github.com/redis/go-redis/v9"
	"github.com/sungwon/enroll-notify/internal/api"
	"github.com/sungwon/enroll-notify/internal/archive"
	"github.com/sungwon/enroll-notify/internal/auth"
	"github.com/sungwon/enroll-notify/internal/config"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/producer"
	"github.com/sungwon/enroll-notify/internal/queue"
	"github.com/sungwon/enroll-notify/internal/record"
)

func main() {
	// Load configuration
	cfg, err := config.Load(configDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(cfg.Logging.Logger())
	log.Info().Msg("starting API server")

	ctx := context.Background()

	store, err := record.Open(cfg.Tracking.Store, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open delivery record store")
	}
	checks := map[string]api.Pinger{}
	if pg, ok := store.(*record.PostgresStore); ok {
		defer pg.Close()
		go func() {
			if err := pg.Bootstrap(ctx); err != nil {
				log.Error().Err(err).Msg("delivery record store bootstrap failed")
			}
		}()
		checks["database"] = pg
	}

	// Producer side of the queue only: no handlers, no consumers.
	q, err := queue.NewQueue(ctx, cfg.Queue, nil, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue")
	}
	defer q.Close()
	if p, ok := q.Enqueuer.(queue.Pinger); ok {
		checks["queue"] = p
	}

	results := queue.NewRedisResultBackend(cfg.Results)
	defer results.Close()
	checks["results"] = results

	routerCfg := api.RouterConfig{
		Producer: producer.New(q.Enqueuer, results, log),
		Records:  store,
		Results:  results,
		DLQ:      q.DLQ,
		Checks:   checks,
		Log:      log,
	}

	if cfg.Archive.Type != "none" {
		arch, err := archive.New(ctx, cfg.Archive, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create message archive")
		}
		routerCfg.Archive = arch
	}

	if cfg.Auth.Enabled {
		routerCfg.JWTService = auth.NewJWTService(cfg.Auth)
		log.Info().Msg("bearer-token auth enabled")
	} else {
		log.Warn().Msg("API auth is disabled; set auth.enabled and auth.signing_key in production")
	}

	// Rate limit counters share the queue's Redis; SQS deployments run
	// without a limiter.
	if cfg.Queue.Type == "redis" && cfg.RateLimit.EnqueuePerMinute > 0 {
		limiterClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer limiterClient.Close()
		routerCfg.RateLimiter = auth.NewRateLimiter(limiterClient, cfg.RateLimit)
		log.Info().Int("enqueue_per_minute", cfg.RateLimit.EnqueuePerMinute).Msg("rate limiter initialized")
	}

	// Configure HTTP server
	addr := cfg.API.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout + 30*time.Second, // room for ?wait= result polling
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	// Graceful shutdown with 30-second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// configDir returns the directory holding config.yaml.
func configDir() string {
	if dir := os.Getenv("ENROLL_NOTIFY_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "config"
}
