package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope carried by every backend. ID is the task id: it is
// assigned once at enqueue time and survives retries and redelivery.
type Message struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewMessage creates a Message for the named task with a fresh UUID task id
// and the JSON encoding of payload.
func NewMessage(name string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}

	return &Message{
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("task %s: empty payload", m.ID)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("task %s: decode payload: %w", m.ID, err)
	}
	return nil
}

// streamKey returns the Redis stream key consumed by the group registered
// for a task name.
func streamKey(taskName string) string {
	return "queue:" + taskName
}

// dlqStreamKey returns the Redis dead letter stream key for a task name.
func dlqStreamKey(taskName string) string {
	return "dlq:" + taskName
}

// delayedKey returns the Redis sorted set holding retries of a task name
// that are waiting out their backoff, scored by due time in milliseconds.
func delayedKey(taskName string) string {
	return "delayed:" + taskName
}

// resultKey returns the Redis key holding a task's result.
func resultKey(taskID string) string {
	return "result:" + taskID
}
