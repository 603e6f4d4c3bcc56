// Package config loads the typed configuration shared by every binary.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/sungwon/enroll-notify/internal/archive"
	"github.com/sungwon/enroll-notify/internal/auth"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/queue"
	"github.com/sungwon/enroll-notify/internal/render"
	"github.com/sungwon/enroll-notify/internal/storage"
	"github.com/sungwon/enroll-notify/internal/transport"
)

// EnvPrefix prefixes every environment override. For example
// ENROLL_NOTIFY_SMTP_HOST overrides smtp.host.
const EnvPrefix = "ENROLL_NOTIFY"

// Config holds all application configuration.
type Config struct {
	Queue     queue.Config         `mapstructure:"queue"`
	Results   queue.ResultConfig   `mapstructure:"results"`
	Database  storage.Config       `mapstructure:"database"`
	Tracking  TrackingConfig       `mapstructure:"tracking"`
	SMTP      transport.Config     `mapstructure:"smtp"`
	Company   render.Branding      `mapstructure:"company"`
	Archive   archive.Config       `mapstructure:"archive"`
	API       APIConfig            `mapstructure:"api"`
	Auth      auth.JWTConfig       `mapstructure:"auth"`
	RateLimit auth.RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig        `mapstructure:"metrics"`
	Logging   LoggingConfig        `mapstructure:"logging"`
	Sink      SinkConfig           `mapstructure:"sink"`
}

// TrackingConfig selects the delivery record store.
type TrackingConfig struct {
	// Store is "postgres" (default) or "memory".
	Store string `mapstructure:"store"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig controls the worker's metrics and health listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Output     string `mapstructure:"output"` // stdout, stderr, file
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxFiles   int    `mapstructure:"max_files"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Logger converts the section to a logger.Config.
func (c LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSizeMB:  c.MaxSizeMB,
		MaxFiles:   c.MaxFiles,
		MaxAgeDays: c.MaxAgeDays,
	}
}

// SinkConfig configures the local smtp-sink development server.
type SinkConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Domain         string        `mapstructure:"domain"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	MaxConnections int           `mapstructure:"max_connections"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	OutputDir      string        `mapstructure:"output_dir"`
	TLSCertFile    string        `mapstructure:"tls_cert_file"`
	TLSKeyFile     string        `mapstructure:"tls_key_file"`
	// MetricsAddr serves /metrics when set.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from config.yaml in configPath. A missing file is
// not an error; defaults and environment variables still apply.
// Environment variables with prefix ENROLL_NOTIFY_ override file values.
// For example, ENROLL_NOTIFY_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.SMTP.FromName == "" {
		cfg.SMTP.FromName = cfg.Company.CompanyName
	}
	if cfg.SMTP.FromEmail == "" {
		cfg.SMTP.FromEmail = cfg.SMTP.FromAddress()
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply even
// when the config file omits it.
func setDefaults(v *viper.Viper) {
	q := queue.DefaultConfig()
	v.SetDefault("queue.type", q.Type)
	v.SetDefault("queue.redis_addr", q.RedisAddr)
	v.SetDefault("queue.redis_password", q.RedisPassword)
	v.SetDefault("queue.redis_db", q.RedisDB)
	v.SetDefault("queue.group_name", q.GroupName)
	v.SetDefault("queue.consumer_name", q.ConsumerName)
	v.SetDefault("queue.worker_count", q.WorkerCount)
	v.SetDefault("queue.block_timeout", q.BlockTimeout)
	v.SetDefault("queue.process_timeout", q.ProcessTimeout)
	v.SetDefault("queue.shutdown_timeout", q.ShutdownTimeout)
	v.SetDefault("queue.claim_min_idle", q.ClaimMinIdle)
	v.SetDefault("queue.max_retries", q.MaxRetries)
	v.SetDefault("queue.retry_transient_failures", q.RetryTransientFailures)
	v.SetDefault("queue.sqs_queue_url", q.SQSQueueURL)
	v.SetDefault("queue.sqs_dlq_url", q.SQSDLQueueURL)
	v.SetDefault("queue.sqs_region", q.SQSRegion)
	v.SetDefault("queue.sqs_wait_time", q.SQSWaitTime)
	v.SetDefault("queue.sqs_visibility_timeout", q.SQSVisTimeout)

	r := queue.DefaultResultConfig()
	v.SetDefault("results.redis_addr", r.RedisAddr)
	v.SetDefault("results.redis_password", r.RedisPassword)
	v.SetDefault("results.redis_db", r.RedisDB)
	v.SetDefault("results.ttl", r.TTL)

	db := storage.DefaultConfig()
	v.SetDefault("database.url", db.URL)
	v.SetDefault("database.min_conns", db.MinConns)
	v.SetDefault("database.max_conns", db.MaxConns)
	v.SetDefault("database.connect_timeout", db.ConnectTimeout)
	v.SetDefault("database.write_timeout", db.WriteTimeout)
	v.SetDefault("database.bootstrap_attempts", db.BootstrapAttempts)
	v.SetDefault("database.bootstrap_delay", db.BootstrapDelay)

	v.SetDefault("tracking.store", "postgres")

	s := transport.DefaultConfig()
	v.SetDefault("smtp.type", s.Type)
	v.SetDefault("smtp.host", s.Host)
	v.SetDefault("smtp.port", s.Port)
	v.SetDefault("smtp.username", s.Username)
	v.SetDefault("smtp.password", s.Password)
	v.SetDefault("smtp.use_tls", s.UseTLS)
	v.SetDefault("smtp.insecure_skip_verify", s.InsecureSkipVerify)
	v.SetDefault("smtp.helo_name", s.HeloName)
	v.SetDefault("smtp.from_email", s.FromEmail)
	v.SetDefault("smtp.from_name", s.FromName)
	v.SetDefault("smtp.timeout", s.Timeout)
	v.SetDefault("smtp.output_dir", s.OutputDir)

	b := render.DefaultBranding()
	v.SetDefault("company.name", b.CompanyName)
	v.SetDefault("company.contact_number", b.ContactNumber)

	a := archive.DefaultConfig()
	v.SetDefault("archive.type", a.Type)
	v.SetDefault("archive.path", a.Path)
	v.SetDefault("archive.s3_bucket", a.S3Bucket)
	v.SetDefault("archive.s3_prefix", a.S3Prefix)
	v.SetDefault("archive.s3_endpoint", a.S3Endpoint)
	v.SetDefault("archive.s3_region", a.S3Region)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)

	j := auth.DefaultJWTConfig()
	v.SetDefault("auth.enabled", j.Enabled)
	v.SetDefault("auth.signing_key", j.SigningKey)
	v.SetDefault("auth.issuer", j.Issuer)
	v.SetDefault("auth.audience", j.Audience)
	v.SetDefault("auth.token_expiry", j.TokenExpiry)

	v.SetDefault("rate_limit.enqueue_per_minute", auth.DefaultRateLimitConfig().EnqueuePerMinute)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "./logs/enroll-notify.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("sink.host", "127.0.0.1")
	v.SetDefault("sink.port", 2525)
	v.SetDefault("sink.domain", "smtp-sink")
	v.SetDefault("sink.username", "")
	v.SetDefault("sink.password", "")
	v.SetDefault("sink.max_connections", 100)
	v.SetDefault("sink.read_timeout", 30*time.Second)
	v.SetDefault("sink.write_timeout", 30*time.Second)
	v.SetDefault("sink.max_message_size", int64(25<<20))
	v.SetDefault("sink.output_dir", "./mail_output")
	v.SetDefault("sink.tls_cert_file", "")
	v.SetDefault("sink.tls_key_file", "")
	v.SetDefault("sink.metrics_addr", "")
}

// Validate checks the sections used by the worker and the API server.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Results.TTL <= 0 {
		errs = append(errs, errors.New("results: ttl must be positive"))
	}
	switch c.Tracking.Store {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database: url is required for the postgres tracking store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("tracking: unknown store %q", c.Tracking.Store))
	}
	if err := c.SMTP.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api: invalid port %d", c.API.Port))
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics: addr is required when enabled"))
	}

	return errors.Join(errs...)
}
