package queue

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Queue groups the backend pieces built from one Config. Dequeuer is nil
// when no handler was supplied, which is the case for producers.
type Queue struct {
	Enqueuer Enqueuer
	Dequeuer Dequeuer
	DLQ      DeadLetterQueue
	close    func() error
}

// Close releases broker connections.
func (q *Queue) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}

// NewQueue builds the backend selected by cfg.Type. When mux is non-nil a
// Dequeuer consuming every task name registered on it is created as well;
// results may be nil to disable the result channel.
func NewQueue(ctx context.Context, cfg Config, mux *Mux, results ResultBackend, log zerolog.Logger) (*Queue, error) {
	if cfg.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		cfg.ConsumerName = host
	}
	retry := NewRetryStrategy(cfg.MaxRetries)

	switch cfg.Type {
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		enqueuer := NewRedisEnqueuer(client)
		dlq := NewRedisDLQ(client, enqueuer)
		q := &Queue{Enqueuer: enqueuer, DLQ: dlq, close: client.Close}
		if mux != nil {
			q.Dequeuer = NewRedisDequeuer(client, dlq, mux, results, retry, cfg, log, mux.Names())
		}
		return q, nil

	case "sqs":
		sqsClient, err := newAWSSQSClient(ctx, cfg.SQSRegion)
		if err != nil {
			return nil, fmt.Errorf("create sqs client: %w", err)
		}
		enqueuer := NewSQSEnqueuer(sqsClient, cfg.SQSQueueURL, log)
		dlq := NewSQSDLQ(sqsClient, cfg.SQSDLQueueURL, enqueuer, log)
		q := &Queue{Enqueuer: enqueuer, DLQ: dlq}
		if mux != nil {
			q.Dequeuer = NewSQSDequeuer(sqsClient, enqueuer, dlq, mux, results, retry, cfg, log)
		}
		return q, nil

	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
