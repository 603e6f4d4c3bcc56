package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SQSDequeuer runs a pool of workers that long-poll one SQS queue. A message
// is deleted only after its task completed; a worker that dies mid-task
// leaves the message to reappear after the visibility timeout.
type SQSDequeuer struct {
	client   sqsAPI
	queueURL string
	enqueuer *SQSEnqueuer
	proc     *processor
	config   Config
	log      zerolog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewSQSDequeuer creates an SQSDequeuer configured from the given Config.
func NewSQSDequeuer(
	client sqsAPI,
	enqueuer *SQSEnqueuer,
	dlq DeadLetterQueue,
	handler MessageHandler,
	results ResultBackend,
	retry *RetryStrategy,
	cfg Config,
	log zerolog.Logger,
) *SQSDequeuer {
	d := &SQSDequeuer{
		client:   client,
		queueURL: cfg.SQSQueueURL,
		enqueuer: enqueuer,
		config:   cfg,
		log:      log,
	}
	d.proc = &processor{
		handler:        handler,
		retry:          retry,
		dlq:            dlq,
		results:        results,
		requeue:        d.retryWithDelay,
		processTimeout: cfg.ProcessTimeout,
		log:            log,
	}
	return d
}

// Start launches the configured number of polling goroutines.
func (d *SQSDequeuer) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.config.WorkerCount {
		d.wg.Add(1)
		go d.runWorker(ctx, fmt.Sprintf("%s-%d", d.config.ConsumerName, i))
	}

	d.log.Info().
		Int("worker_count", d.config.WorkerCount).
		Str("queue_url", d.queueURL).
		Msg("sqs dequeuer started")

	return nil
}

// Stop cancels polling and waits for in-flight tasks within the shutdown
// timeout.
func (d *SQSDequeuer) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		d.log.Info().Msg("sqs dequeuer stopped gracefully")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	case <-timer.C:
		d.log.Warn().Msg("sqs dequeuer shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", d.config.ShutdownTimeout)
	}
}

func (d *SQSDequeuer) runWorker(ctx context.Context, workerName string) {
	defer d.wg.Done()

	log := d.log.With().Str("worker", workerName).Logger()
	log.Info().Msg("sqs worker started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("sqs worker stopping")
			return
		}

		messages, err := d.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            d.queueURL,
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     d.config.SQSWaitTime,
			VisibilityTimeout:   d.config.SQSVisTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("sqs receive error")
			sleepCtx(ctx, errorBackoff)
			continue
		}

		for _, sqsMsg := range messages {
			d.processMessage(ctx, log, sqsMsg)
		}
	}
}

func (d *SQSDequeuer) processMessage(ctx context.Context, log zerolog.Logger, sqsMsg sqsReceivedMessage) {
	var msg Message
	if err := json.Unmarshal([]byte(sqsMsg.Body), &msg); err != nil {
		log.Error().Err(err).Str("sqs_message_id", sqsMsg.MessageID).Msg("failed to unmarshal sqs message")
		d.delete(ctx, log, sqsMsg)
		return
	}

	if !d.proc.process(ctx, &msg) {
		// Left for redelivery after the visibility timeout.
		return
	}

	d.delete(ctx, log, sqsMsg)
}

func (d *SQSDequeuer) delete(ctx context.Context, log zerolog.Logger, sqsMsg sqsReceivedMessage) {
	if err := d.client.DeleteMessage(context.WithoutCancel(ctx), d.queueURL, sqsMsg.ReceiptHandle); err != nil {
		log.Error().Err(err).Str("sqs_message_id", sqsMsg.MessageID).Msg("failed to delete sqs message")
	}
}

// retryWithDelay hands the backoff to SQS as a delivery delay.
func (d *SQSDequeuer) retryWithDelay(ctx context.Context, msg *Message, backoff time.Duration) error {
	if _, err := d.enqueuer.EnqueueWithDelay(ctx, msg, max(backoff, time.Second)); err != nil {
		return fmt.Errorf("re-enqueue for retry: %w", err)
	}
	return nil
}
