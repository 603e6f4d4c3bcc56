// Command smtp-sink is a local SMTP server for development. It accepts every
// message and writes it as an .eml file, so the worker can be pointed at it
// instead of a real mail server.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sungwon/enroll-notify/internal/archive"
	"github.com/sungwon/enroll-notify/internal/config"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/metrics"
	"github.com/sungwon/enroll-notify/internal/smtpsink"
)

func main() {
	// Load configuration from the "config" directory.
	dir := "config"
	if d := os.Getenv("ENROLL_NOTIFY_CONFIG_DIR"); d != "" {
		dir = d
	}
	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	sink := cfg.Sink

	log := logger.NewFromConfig(cfg.Logging.Logger())
	log.Info().Msg("starting SMTP sink")

	out, err := archive.NewLocal(sink.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", sink.OutputDir).Msg("failed to create output directory")
	}

	backend := smtpsink.NewBackend(smtpsink.Options{
		Username: sink.Username,
		Password: sink.Password,
		MaxConns: sink.MaxConnections,
		Deliver: func(ctx context.Context, d smtpsink.Delivery) error {
			name := fmt.Sprintf("%s_%s", d.ReceivedAt.Format("20060102T150405Z"), uuid.NewString())
			if err := out.Put(ctx, name, d.Raw); err != nil {
				return err
			}
			log.Info().
				Str("correlation_id", logger.CorrelationIDFromContext(ctx)).
				Str("file", name+".eml").
				Str("subject", d.Subject).
				Strs("to", d.Recipients).
				Msg("message written")
			return nil
		},
	}, log)

	s := smtpsink.NewServer(backend, smtpsink.ServerConfig{
		Addr:            net.JoinHostPort(sink.Host, fmt.Sprint(sink.Port)),
		Domain:          sink.Domain,
		ReadTimeout:     sink.ReadTimeout,
		WriteTimeout:    sink.WriteTimeout,
		MaxMessageBytes: sink.MaxMessageSize,
		// Plain AUTH is fine on loopback and when TLS is configured below.
		AllowInsecureAuth: sink.TLSCertFile == "",
	})

	// Configure TLS if certificates are provided.
	if sink.TLSCertFile != "" && sink.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(sink.TLSCertFile, sink.TLSKeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS certificate")
		}
		s.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", s.Addr).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", s.Addr).Str("output_dir", sink.OutputDir).Msg("SMTP sink listening")
		if err := s.Serve(ln); err != nil {
			log.Error().Err(err).Msg("SMTP sink error")
		}
	}()

	var metricsSrv *http.Server
	if sink.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: sink.MetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Int64("active_sessions", backend.ActiveSessions()).Msg("shutting down SMTP sink")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("SMTP sink shutdown error")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	log.Info().Msg("SMTP sink stopped")
}
