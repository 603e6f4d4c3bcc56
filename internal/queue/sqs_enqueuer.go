package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// maxSQSDelay is the longest delivery delay SQS accepts.
const maxSQSDelay = 15 * time.Minute

// SQSEnqueuer publishes messages of every task name to one SQS queue.
type SQSEnqueuer struct {
	client   sqsAPI
	queueURL string
	log      zerolog.Logger
}

// NewSQSEnqueuer creates a new SQSEnqueuer targeting the given queue URL.
func NewSQSEnqueuer(client sqsAPI, queueURL string, log zerolog.Logger) *SQSEnqueuer {
	return &SQSEnqueuer{
		client:   client,
		queueURL: queueURL,
		log:      log,
	}
}

// Enqueue sends msg with a single SendMessage call and returns the SQS
// message id. Send failures wrap ErrQueueUnavailable.
func (e *SQSEnqueuer) Enqueue(ctx context.Context, msg *Message) (string, error) {
	return e.EnqueueWithDelay(ctx, msg, 0)
}

// EnqueueWithDelay sends msg so that it becomes visible after delay, capped
// at the SQS maximum of 15 minutes.
func (e *SQSEnqueuer) EnqueueWithDelay(ctx context.Context, msg *Message, delay time.Duration) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	delay = min(delay, maxSQSDelay)

	id, err := e.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:     e.queueURL,
		MessageBody:  string(data),
		DelaySeconds: int32(delay / time.Second),
		TaskName:     msg.Name,
	})
	if err != nil {
		return "", fmt.Errorf("%w: sqs send message: %w", ErrQueueUnavailable, err)
	}

	TasksEnqueuedTotal.WithLabelValues(msg.Name).Inc()

	return id, nil
}

// Ping checks that the queue is reachable by reading its depth.
func (e *SQSEnqueuer) Ping(ctx context.Context) error {
	if _, err := e.client.ApproximateDepth(ctx, e.queueURL); err != nil {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return nil
}
