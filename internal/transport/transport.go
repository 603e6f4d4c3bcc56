// Package transport composes MIME messages and hands them to a mail server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is a composed message ready for submission.
type Message struct {
	ID      string // task id, used for logging and file names
	From    string // envelope sender
	To      []string
	Subject string
	Raw     []byte // RFC 5322 message including headers
}

// Transport submits composed messages.
type Transport interface {
	// Send submits msg. A nil error means the server accepted the message.
	Send(ctx context.Context, msg *Message) error
	// Name returns the transport identifier ("smtp", "stdout", "file").
	Name() string
	// HealthCheck verifies the transport is reachable.
	HealthCheck(ctx context.Context) error
}

// Config holds mail transport settings.
type Config struct {
	// Type selects the transport: "smtp" (default), "stdout" or "file".
	Type               string        `mapstructure:"type"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	UseTLS             bool          `mapstructure:"use_tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	HeloName           string        `mapstructure:"helo_name"`
	FromEmail          string        `mapstructure:"from_email"`
	FromName           string        `mapstructure:"from_name"`
	Timeout            time.Duration `mapstructure:"timeout"`
	// OutputDir is where the file transport writes messages.
	OutputDir string `mapstructure:"output_dir"`
}

const (
	defaultTimeout   = 10 * time.Second
	defaultOutputDir = "./mail_output"
	fallbackFrom     = "noreply@example.com"
)

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		Type:      "smtp",
		Host:      "smtp.gmail.com",
		Port:      587,
		UseTLS:    true,
		Timeout:   defaultTimeout,
		OutputDir: defaultOutputDir,
	}
}

// FromAddress returns the configured sender, falling back to the SMTP user
// and then to a noreply address.
func (c Config) FromAddress() string {
	switch {
	case c.FromEmail != "":
		return c.FromEmail
	case c.Username != "":
		return c.Username
	default:
		return fallbackFrom
	}
}

// Validate checks that required fields are set for the selected type.
func (c Config) Validate() error {
	switch c.Type {
	case "smtp", "":
		if c.Host == "" {
			return errors.New("smtp: host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("smtp: invalid port %d", c.Port)
		}
		if (c.Username == "") != (c.Password == "") {
			return errors.New("smtp: username and password must be set together")
		}
		if c.Timeout <= 0 {
			return errors.New("smtp: timeout must be positive")
		}
	case "stdout":
	case "file":
		if c.OutputDir == "" {
			return errors.New("smtp: output_dir is required for the file transport")
		}
	default:
		return fmt.Errorf("smtp: unknown transport type %q", c.Type)
	}
	return nil
}
