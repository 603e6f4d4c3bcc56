package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/logger"
)

// requeueFunc durably schedules msg to run again after backoff. An error
// means the retry was not stored and the delivery must not be acknowledged.
type requeueFunc func(ctx context.Context, msg *Message, backoff time.Duration) error

// processor runs one decoded message through the handler and applies the
// retry, dead letter and result policies shared by every backend.
type processor struct {
	handler        MessageHandler
	retry          *RetryStrategy
	dlq            DeadLetterQueue
	results        ResultBackend
	requeue        requeueFunc
	processTimeout time.Duration
	log            zerolog.Logger
}

// process runs msg and reports whether the broker delivery may be
// acknowledged. It returns false only when the follow-up (retry or dead
// letter) could not be stored, leaving the delivery to be redelivered.
func (p *processor) process(ctx context.Context, msg *Message) bool {
	start := time.Now()
	log := logger.ForTask(p.log, msg.ID, msg.Name).With().
		Int("retry_count", msg.RetryCount).
		Logger()

	// ctx is cancelled when the dequeuer stops. That stops reading only: the
	// task in hand runs to completion under its own timeout, and its result
	// and dead letter writes go through as well.
	bg := context.WithoutCancel(ctx)

	p.publish(bg, msg, StateStarted, "")

	processCtx, cancel := context.WithTimeout(bg, p.processTimeout)
	res, err := p.handler.HandleMessage(logger.WithLogger(processCtx, log), msg)
	cancel()

	TaskProcessingDuration.WithLabelValues(msg.Name).Observe(time.Since(start).Seconds())

	if err == nil {
		if res.State == "" {
			res.State = StateSuccess
		}
		TasksProcessedTotal.WithLabelValues(msg.Name, string(res.State)).Inc()
		p.publish(bg, msg, res.State, res.Text)
		return true
	}

	log.Error().Err(err).Msg("task execution failed")

	msg.RetryCount++
	if p.retry.ShouldRetry(msg.RetryCount) {
		backoff := p.retry.NextBackoff(msg.RetryCount - 1)
		log.Info().Dur("backoff", backoff).Msg("scheduling retry")

		if rqErr := p.requeue(bg, msg, backoff); rqErr != nil {
			log.Error().Err(rqErr).Msg("failed to schedule retry, leaving delivery unacknowledged")
			return false
		}
		TasksProcessedTotal.WithLabelValues(msg.Name, string(StateRetry)).Inc()
		p.publish(bg, msg, StateRetry, err.Error())
		return true
	}

	log.Warn().Msg("max retries exhausted, moving to DLQ")
	if dlqErr := p.dlq.MoveToDLQ(bg, msg, err.Error()); dlqErr != nil {
		log.Error().Err(dlqErr).Msg("failed to move task to DLQ, leaving delivery unacknowledged")
		return false
	}
	TasksProcessedTotal.WithLabelValues(msg.Name, string(StateFailure)).Inc()
	p.publish(bg, msg, StateFailure, "failed: "+err.Error())
	return true
}

func (p *processor) publish(ctx context.Context, msg *Message, state State, text string) {
	if p.results == nil {
		return
	}
	err := p.results.Store(ctx, &Result{
		TaskID:     msg.ID,
		TaskName:   msg.Name,
		State:      state,
		Result:     text,
		RetryCount: msg.RetryCount,
		DateDone:   time.Now().UTC(),
	})
	if err != nil {
		ResultWriteFailuresTotal.Inc()
		p.log.Warn().Err(err).Str("task_id", msg.ID).Str("state", string(state)).Msg("failed to store task result")
	}
}
