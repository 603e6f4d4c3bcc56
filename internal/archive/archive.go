// Package archive keeps a copy of every composed message, keyed by task id.
// Archiving is best-effort: callers log failures and carry on.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no message is archived under a task id.
var ErrNotFound = errors.New("archive: message not found")

// Archive stores raw RFC 5322 messages.
type Archive interface {
	Put(ctx context.Context, taskID string, raw []byte) error
	Get(ctx context.Context, taskID string) ([]byte, error)
}

// Config selects and configures an Archive.
type Config struct {
	// Type is "none" (default), "local" or "s3".
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// DefaultConfig returns an archive config with archiving disabled.
func DefaultConfig() Config {
	return Config{Type: "none", Path: "./archive", S3Prefix: "messages/"}
}

// Validate checks the fields required by the selected type.
func (c Config) Validate() error {
	switch c.Type {
	case "", "none":
	case "local":
		if c.Path == "" {
			return errors.New("archive: path is required for local archive")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("archive: s3_bucket is required for s3 archive")
		}
	default:
		return fmt.Errorf("archive: unknown type %q", c.Type)
	}
	return nil
}

// New creates the Archive selected by cfg.Type.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Path)
	case "s3":
		return NewS3FromConfig(ctx, cfg)
	default:
		log.Debug().Msg("message archive disabled")
		return Nop{}, nil
	}
}

// objectName maps a task id to a file or object name.
func objectName(taskID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(taskID)
	return safe + ".eml"
}

// Nop discards messages.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) error { return nil }

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }
