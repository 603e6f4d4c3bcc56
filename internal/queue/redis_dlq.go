package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DLQMessage wraps a task whose retries were exhausted.
type DLQMessage struct {
	OriginalMessage *Message  `json:"original_message"`
	FinalError      string    `json:"final_error"`
	MovedAt         time.Time `json:"moved_at"`
}

// RedisDLQ keeps dead tasks in a dlq:<task name> stream.
type RedisDLQ struct {
	client   *redis.Client
	enqueuer Enqueuer
}

// NewRedisDLQ creates a new RedisDLQ backed by the given Redis client and enqueuer.
func NewRedisDLQ(client *redis.Client, enqueuer Enqueuer) *RedisDLQ {
	return &RedisDLQ{client: client, enqueuer: enqueuer}
}

// MoveToDLQ appends msg to the dead letter stream of its task name.
func (d *RedisDLQ) MoveToDLQ(ctx context.Context, msg *Message, reason string) error {
	data, err := json.Marshal(DLQMessage{
		OriginalMessage: msg,
		FinalError:      reason,
		MovedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	key := dlqStreamKey(msg.Name)
	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to dlq stream %s: %w", key, err)
	}

	DLQMessagesTotal.WithLabelValues(msg.Name).Inc()

	return nil
}

// Reprocess re-enqueues the given dead letter entries with a reset retry
// count and removes them from the dead letter stream. The task id is kept,
// so a reprocessed task updates its existing delivery record.
func (d *RedisDLQ) Reprocess(ctx context.Context, taskName string, entryIDs []string) (int, error) {
	key := dlqStreamKey(taskName)
	reprocessed := 0

	for _, entryID := range entryIDs {
		entries, err := d.client.XRange(ctx, key, entryID, entryID).Result()
		if err != nil {
			return reprocessed, fmt.Errorf("xrange dlq entry %s: %w", entryID, err)
		}
		if len(entries) == 0 {
			continue
		}

		data, ok := entries[0].Values["data"].(string)
		if !ok {
			continue
		}

		var dlqMsg DLQMessage
		if err := json.Unmarshal([]byte(data), &dlqMsg); err != nil || dlqMsg.OriginalMessage == nil {
			continue
		}

		dlqMsg.OriginalMessage.RetryCount = 0
		if _, err := d.enqueuer.Enqueue(ctx, dlqMsg.OriginalMessage); err != nil {
			return reprocessed, fmt.Errorf("re-enqueue task %s: %w", dlqMsg.OriginalMessage.ID, err)
		}

		if err := d.client.XDel(ctx, key, entryID).Err(); err != nil {
			return reprocessed, fmt.Errorf("xdel dlq entry %s: %w", entryID, err)
		}

		reprocessed++
	}

	return reprocessed, nil
}
