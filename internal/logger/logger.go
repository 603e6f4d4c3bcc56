// Package logger builds the zerolog loggers shared by the worker, the API
// server and the producer CLI.
package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config selects the level and destination of log output. It mirrors
// config.LoggingConfig so this package does not import config.
type Config struct {
	Level      string
	Output     string // stdout (default), stderr, file
	FilePath   string
	MaxSizeMB  int
	MaxFiles   int
	MaxAgeDays int
}

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// New creates a JSON zerolog.Logger writing to stdout at the given level.
// An unparseable level falls back to info.
func New(level string) zerolog.Logger {
	return newWithWriter(level, os.Stdout)
}

// NewFromConfig creates a logger whose writer is chosen by cfg.Output:
//   - "file": size-rotated file via lumberjack
//   - "stderr": os.Stderr, used by the producer CLI so stdout stays clean
//   - anything else: os.Stdout
func NewFromConfig(cfg Config) zerolog.Logger {
	var w io.Writer
	switch cfg.Output {
	case "file":
		w = NewFileWriter(FileConfig{
			Path:       cfg.FilePath,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxFiles:   cfg.MaxFiles,
			MaxAgeDays: cfg.MaxAgeDays,
		})
	case "stderr":
		w = os.Stderr
	default:
		w = os.Stdout
	}
	return newWithWriter(cfg.Level, w)
}

func newWithWriter(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// ForTask returns a child logger tagged with the task id and task name.
func ForTask(log zerolog.Logger, taskID, taskName string) zerolog.Logger {
	return log.With().
		Str("task_id", taskID).
		Str("task_name", taskName).
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext retrieves the logger from the context, attaching the
// correlation ID when one is present. Without a stored logger an info-level
// stdout logger is returned.
func FromContext(ctx context.Context) zerolog.Logger {
	var log zerolog.Logger

	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		log = l
	} else {
		log = New("info")
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}

	return log
}

// NewCorrelationID generates a new UUID-based correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
