package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisEnqueuer publishes messages to one Redis stream per task name.
type RedisEnqueuer struct {
	client *redis.Client
}

// NewRedisEnqueuer creates a new RedisEnqueuer backed by the given Redis client.
func NewRedisEnqueuer(client *redis.Client) *RedisEnqueuer {
	return &RedisEnqueuer{client: client}
}

// Enqueue appends the message to its task stream with a single XADD and
// returns the stream entry id. Broker failures wrap ErrQueueUnavailable.
func (e *RedisEnqueuer) Enqueue(ctx context.Context, msg *Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	key := streamKey(msg.Name)
	entryID, err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd to stream %s: %w", ErrQueueUnavailable, key, err)
	}

	TasksEnqueuedTotal.WithLabelValues(msg.Name).Inc()

	return entryID, nil
}

// Ping checks connectivity to the broker.
func (e *RedisEnqueuer) Ping(ctx context.Context) error {
	if err := e.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return nil
}
