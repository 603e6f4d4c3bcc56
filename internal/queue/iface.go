package queue

import (
	"context"
	"errors"
)

// ErrQueueUnavailable is wrapped by every Enqueuer error caused by the broker
// being unreachable or rejecting the write.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Enqueuer publishes messages to the queue. The returned string is the
// broker-level entry id; the task id is always msg.ID.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *Message) (string, error)
}

// Dequeuer consumes messages from the queue.
// Start begins consuming in background goroutines.
// Stop gracefully shuts down consumers.
type Dequeuer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DeadLetterQueue manages messages whose retry budget is exhausted.
// Reprocess ids are stream entry ids on Redis and task ids on SQS.
type DeadLetterQueue interface {
	MoveToDLQ(ctx context.Context, msg *Message, reason string) error
	Reprocess(ctx context.Context, taskName string, ids []string) (int, error)
}

// Pinger is implemented by enqueuers that can report broker reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MessageHandler processes a single queue message.
//
// A nil error means the task ran to completion, successfully or not, and
// res is published on the result channel. A non-nil error asks the queue to
// apply its retry policy; once retries are exhausted the message goes to the
// dead letter queue and a FAILURE result is published.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) (res TaskResult, err error)
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg *Message) (TaskResult, error)

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) (TaskResult, error) {
	return f(ctx, msg)
}
