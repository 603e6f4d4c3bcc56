package transport

import (
	"fmt"

	"github.com/rs/zerolog"
)

// New creates the transport selected by cfg.Type.
func New(cfg Config, log zerolog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	switch cfg.Type {
	case "smtp", "":
		return NewSMTP(cfg, log), nil
	case "stdout":
		return NewStdout(), nil
	case "file":
		return NewFile(cfg.OutputDir), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}
