package queue

import (
	"errors"
	"fmt"
	"time"
)

// Config holds configuration for the task queue.
type Config struct {
	// Type selects the queue backend: "redis" (default) or "sqs".
	Type          string `mapstructure:"type"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// GroupName is the Redis consumer group shared by all worker processes.
	GroupName string `mapstructure:"group_name"`
	// ConsumerName prefixes per-goroutine consumer names; it must differ
	// between worker processes. Defaults to the host name.
	ConsumerName string `mapstructure:"consumer_name"`

	WorkerCount     int           `mapstructure:"worker_count"`
	BlockTimeout    time.Duration `mapstructure:"block_timeout"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ClaimMinIdle is how long an entry may stay unacknowledged before another
	// consumer reclaims it. Zero disables reclaiming.
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
	MaxRetries   int           `mapstructure:"max_retries"`
	// RetryTransientFailures lets transient transport failures go through the
	// retry policy instead of completing the task as failed.
	RetryTransientFailures bool `mapstructure:"retry_transient_failures"`

	SQSQueueURL   string `mapstructure:"sqs_queue_url"`
	SQSDLQueueURL string `mapstructure:"sqs_dlq_url"`
	SQSRegion     string `mapstructure:"sqs_region"`
	SQSWaitTime   int32  `mapstructure:"sqs_wait_time"`          // long poll seconds
	SQSVisTimeout int32  `mapstructure:"sqs_visibility_timeout"` // seconds
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:            "redis",
		RedisAddr:       "localhost:6379",
		GroupName:       "enroll-workers",
		WorkerCount:     4,
		BlockTimeout:    5 * time.Second,
		ProcessTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		ClaimMinIdle:    5 * time.Minute,
		MaxRetries:      3,
		SQSWaitTime:     20,
		SQSVisTimeout:   60,
	}
}

// Validate checks backend-specific requirements.
func (c Config) Validate() error {
	switch c.Type {
	case "redis", "":
		if c.RedisAddr == "" {
			return errors.New("queue: redis_addr is required")
		}
		if c.GroupName == "" {
			return errors.New("queue: group_name is required")
		}
		if c.ClaimMinIdle > 0 && c.ClaimMinIdle <= c.ProcessTimeout {
			return fmt.Errorf("queue: claim_min_idle (%s) must exceed process_timeout (%s)", c.ClaimMinIdle, c.ProcessTimeout)
		}
	case "sqs":
		if c.SQSQueueURL == "" {
			return errors.New("queue: sqs_queue_url is required")
		}
		if c.SQSRegion == "" {
			return errors.New("queue: sqs_region is required")
		}
	default:
		return fmt.Errorf("queue: unknown type %q", c.Type)
	}
	if c.WorkerCount < 1 {
		return errors.New("queue: worker_count must be at least 1")
	}
	if c.MaxRetries < 0 {
		return errors.New("queue: max_retries must not be negative")
	}
	return nil
}
