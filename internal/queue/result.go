package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResultNotFound is returned when no result is stored for a task id,
// either because the id is unknown or the result expired.
var ErrResultNotFound = errors.New("task result not found")

// State is the lifecycle state of a task as seen on the result channel.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateRetry   State = "RETRY"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
)

// Ready reports whether the state is final.
func (s State) Ready() bool {
	return s == StateSuccess || s == StateFailure
}

// TaskResult is what a handler reports for a completed task.
type TaskResult struct {
	State State
	Text  string
}

// Result is the stored form of a task result.
type Result struct {
	TaskID     string    `json:"task_id"`
	TaskName   string    `json:"task_name"`
	State      State     `json:"state"`
	Result     string    `json:"result,omitempty"`
	RetryCount int       `json:"retry_count"`
	DateDone   time.Time `json:"date_done"`
}

// ResultBackend stores and retrieves task results.
type ResultBackend interface {
	Store(ctx context.Context, res *Result) error
	Get(ctx context.Context, taskID string) (*Result, error)
}

// ResultDeleter is implemented by backends that can drop a stored result.
type ResultDeleter interface {
	Delete(ctx context.Context, taskID string) error
}

// ResultConfig configures the Redis result backend.
type ResultConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// DefaultResultConfig returns the default result backend configuration.
// Results live in a separate logical database from the task streams.
func DefaultResultConfig() ResultConfig {
	return ResultConfig{
		RedisAddr: "localhost:6379",
		RedisDB:   1,
		TTL:       24 * time.Hour,
	}
}

// RedisResultBackend stores results as JSON strings under result:<task_id>
// with a fixed expiry.
type RedisResultBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResultBackend creates a result backend on its own Redis client.
func NewRedisResultBackend(cfg ResultConfig) *RedisResultBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisResultBackendWithClient(client, cfg.TTL)
}

// NewRedisResultBackendWithClient creates a result backend on an existing client.
func NewRedisResultBackendWithClient(client *redis.Client, ttl time.Duration) *RedisResultBackend {
	return &RedisResultBackend{client: client, ttl: ttl}
}

// Store writes the result, replacing any earlier state for the task.
func (b *RedisResultBackend) Store(ctx context.Context, res *Result) error {
	if res.DateDone.IsZero() {
		res.DateDone = time.Now().UTC()
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := b.client.Set(ctx, resultKey(res.TaskID), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", resultKey(res.TaskID), err)
	}
	return nil
}

// Get returns the stored result or ErrResultNotFound.
func (b *RedisResultBackend) Get(ctx context.Context, taskID string) (*Result, error) {
	data, err := b.client.Get(ctx, resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", resultKey(taskID), err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", taskID, err)
	}
	return &res, nil
}

// Delete removes the result of a task. Deleting a missing result is not an
// error.
func (b *RedisResultBackend) Delete(ctx context.Context, taskID string) error {
	if err := b.client.Del(ctx, resultKey(taskID)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", resultKey(taskID), err)
	}
	return nil
}

// Ping checks connectivity to the result store.
func (b *RedisResultBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (b *RedisResultBackend) Close() error {
	return b.client.Close()
}

// WaitForResult polls b every interval until the task reaches a final state
// or ctx is done. On expiry the last observed result, if any, is returned
// together with ctx.Err().
func WaitForResult(ctx context.Context, b ResultBackend, taskID string, interval time.Duration) (*Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := b.Get(ctx, taskID)
		switch {
		case err == nil && res.State.Ready():
			return res, nil
		case err != nil && !errors.Is(err, ErrResultNotFound):
			return nil, err
		}

		select {
		case <-ctx.Done():
			if res != nil {
				return res, ctx.Err()
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
