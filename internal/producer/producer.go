// Package producer publishes notification tasks onto the queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/enrollment"
	"github.com/sungwon/enroll-notify/internal/queue"
)

// ErrInvalidRequest is wrapped by every validation failure. Nothing is
// published when it is returned.
var ErrInvalidRequest = errors.New("invalid request")

// EnrollmentRequest is the input to Enqueue.
type EnrollmentRequest struct {
	CourseName string
	UserID     string
	Email      string
	UserName   string
}

// Producer validates requests and enqueues tasks.
type Producer struct {
	enqueuer queue.Enqueuer
	results  queue.ResultBackend
	log      zerolog.Logger
}

// New creates a Producer. results may be nil; when set, a PENDING result is
// stored for every enqueued task.
func New(enqueuer queue.Enqueuer, results queue.ResultBackend, log zerolog.Logger) *Producer {
	return &Producer{enqueuer: enqueuer, results: results, log: log}
}

// Enqueue publishes one send_course_enrollment_email task and returns its
// task id without waiting for delivery. A queue failure wraps
// queue.ErrQueueUnavailable.
func (p *Producer) Enqueue(ctx context.Context, req EnrollmentRequest) (string, error) {
	task := enrollment.Task{
		CourseName: req.CourseName,
		UserID:     req.UserID,
		Email:      req.Email,
		UserName:   req.UserName,
	}
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return p.publish(ctx, enrollment.TaskSendCourseEnrollmentEmail, task)
}

// EnqueueCustom publishes one send_custom_email task.
func (p *Producer) EnqueueCustom(ctx context.Context, email enrollment.CustomEmail) (string, error) {
	if err := email.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return p.publish(ctx, enrollment.TaskSendCustomEmail, email)
}

func (p *Producer) publish(ctx context.Context, name string, payload any) (string, error) {
	msg, err := queue.NewMessage(name, payload)
	if err != nil {
		return "", err
	}
	id := msg.ID

	// PENDING goes in before the message is visible to workers, so a worker
	// that finishes quickly always writes over it and never the reverse.
	pending := p.storePending(ctx, msg)

	entryID, err := p.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		if pending {
			p.discardPending(ctx, id)
		}
		return "", err
	}

	p.log.Info().
		Str("task_id", id).
		Str("task_name", name).
		Str("entry_id", entryID).
		Msg("task enqueued")

	return id, nil
}

// storePending records the PENDING state for msg and reports whether it was
// stored. Failures are logged only.
func (p *Producer) storePending(ctx context.Context, msg *queue.Message) bool {
	if p.results == nil {
		return false
	}
	res := &queue.Result{
		TaskID:   msg.ID,
		TaskName: msg.Name,
		State:    queue.StatePending,
		DateDone: time.Now().UTC(),
	}
	if err := p.results.Store(ctx, res); err != nil {
		p.log.Warn().Err(err).Str("task_id", msg.ID).Msg("failed to store pending result")
		return false
	}
	return true
}

// discardPending removes the PENDING result of a task that was never
// published, when the backend supports deletion.
func (p *Producer) discardPending(ctx context.Context, id string) {
	d, ok := p.results.(queue.ResultDeleter)
	if !ok {
		return
	}
	if err := d.Delete(context.WithoutCancel(ctx), id); err != nil {
		p.log.Warn().Err(err).Str("task_id", id).Msg("failed to remove pending result")
	}
}
