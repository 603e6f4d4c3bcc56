// Package dispatcher runs notification tasks: it records a pending delivery,
// renders and sends the message, and records the outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/archive"
	"github.com/sungwon/enroll-notify/internal/enrollment"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/queue"
	"github.com/sungwon/enroll-notify/internal/record"
	"github.com/sungwon/enroll-notify/internal/render"
	"github.com/sungwon/enroll-notify/internal/transport"
)

// Tracking operations, used as the op label on TrackingWriteFailuresTotal.
const (
	opUpsertPending = "upsert_pending"
	opMarkSent      = "mark_sent"
	opMarkFailed    = "mark_failed"
)

// DefaultTrackingTimeout bounds each record store write when
// Config.TrackingTimeout is zero.
const DefaultTrackingTimeout = 5 * time.Second

// Config holds dispatcher settings.
type Config struct {
	FromEmail string
	FromName  string
	// RetryTransientFailures returns transient transport failures to the
	// queue so its retry policy applies. Off by default.
	RetryTransientFailures bool
	// TrackingTimeout bounds each record store write so that a hung store
	// cannot hold up a send.
	TrackingTimeout time.Duration
}

// Outcome is the result of one task. The delivery outcome (Status, Text,
// Err) is independent of the tracking outcome: TrackingErrs lists record
// store writes that failed and were skipped.
type Outcome struct {
	TaskID       string
	Status       record.Status
	Text         string
	Err          error
	TrackingErrs []error
}

// Sent reports whether the message was accepted by the transport.
func (o *Outcome) Sent() bool {
	return o.Status == record.StatusSent
}

// Result converts the outcome to the form published on the result channel.
func (o *Outcome) Result() queue.TaskResult {
	if o.Sent() {
		return queue.TaskResult{State: queue.StateSuccess, Text: o.Text}
	}
	return queue.TaskResult{State: queue.StateFailure, Text: o.Text}
}

// Dispatcher implements the consumer side of notification tasks.
type Dispatcher struct {
	store     record.Store
	renderer  *render.Renderer
	transport transport.Transport
	archive   archive.Archive
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

// New creates a Dispatcher. arch may be nil to disable archiving.
func New(
	store record.Store,
	renderer *render.Renderer,
	tr transport.Transport,
	arch archive.Archive,
	cfg Config,
	log zerolog.Logger,
) *Dispatcher {
	if arch == nil {
		arch = archive.Nop{}
	}
	if cfg.TrackingTimeout <= 0 {
		cfg.TrackingTimeout = DefaultTrackingTimeout
	}
	return &Dispatcher{
		store:     store,
		renderer:  renderer,
		transport: tr,
		archive:   arch,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
	}
}

// Register installs the dispatcher's handlers on mux.
func (d *Dispatcher) Register(mux *queue.Mux) {
	mux.HandleFunc(enrollment.TaskSendCourseEnrollmentEmail, d.handleEnrollment)
	mux.HandleFunc(enrollment.TaskSendCustomEmail, d.handleCustom)
}

func (d *Dispatcher) handleEnrollment(ctx context.Context, msg *queue.Message) (queue.TaskResult, error) {
	var t enrollment.Task
	if err := decode(msg, &t); err != nil {
		return d.rejected(msg, err), nil
	}
	out := d.SendEnrollment(ctx, msg.ID, t)
	return d.taskResult(out)
}

func (d *Dispatcher) handleCustom(ctx context.Context, msg *queue.Message) (queue.TaskResult, error) {
	var c enrollment.CustomEmail
	if err := decode(msg, &c); err != nil {
		return d.rejected(msg, err), nil
	}
	out := d.SendCustom(ctx, msg.ID, c)
	return d.taskResult(out)
}

type validator interface {
	Validate() error
}

// decode unmarshals the payload into v and checks required fields.
func decode(msg *queue.Message, v validator) error {
	if err := msg.Decode(v); err != nil {
		return err
	}
	return v.Validate()
}

// rejected reports a payload that cannot be processed. No record is written.
func (d *Dispatcher) rejected(msg *queue.Message, err error) queue.TaskResult {
	log := logger.ForTask(d.log, msg.ID, msg.Name)
	log.Error().Err(err).Msg("rejecting malformed task payload")
	DeliveriesTotal.WithLabelValues(msg.Name, string(record.StatusFailed)).Inc()
	return queue.TaskResult{State: queue.StateFailure, Text: "failed: " + err.Error()}
}

// taskResult maps an outcome to the queue contract. Delivery failures are
// completed tasks unless retrying transient failures is enabled.
func (d *Dispatcher) taskResult(out *Outcome) (queue.TaskResult, error) {
	if !out.Sent() && d.cfg.RetryTransientFailures && retryable(out.Err) {
		return queue.TaskResult{}, out.Err
	}
	return out.Result(), nil
}

func retryable(err error) bool {
	var te *transport.Error
	return errors.As(err, &te) && !te.Permanent
}

// SendEnrollment delivers the enrollment confirmation for t under taskID.
// Calling it again with the same taskID sends again and leaves one record
// holding the latest outcome.
func (d *Dispatcher) SendEnrollment(ctx context.Context, taskID string, t enrollment.Task) *Outcome {
	return d.run(ctx, job{
		taskID:   taskID,
		taskName: enrollment.TaskSendCourseEnrollmentEmail,
		pending: record.PendingParams{
			TaskID:     taskID,
			Email:      t.Email,
			Subject:    render.EnrollmentSubject(t.CourseName),
			CourseName: t.CourseName,
			UserID:     t.UserID,
			UserName:   t.UserName,
		},
		render: func() (*render.Message, error) { return d.renderer.Enrollment(t) },
		sentText: func() string {
			return fmt.Sprintf("sent to %s (course: %s, ID: %s)", t.Email, t.CourseName, t.UserID)
		},
	})
}

// SendCustom delivers a caller supplied message under taskID with the same
// tracking lifecycle as enrollments.
func (d *Dispatcher) SendCustom(ctx context.Context, taskID string, c enrollment.CustomEmail) *Outcome {
	return d.run(ctx, job{
		taskID:   taskID,
		taskName: enrollment.TaskSendCustomEmail,
		pending: record.PendingParams{
			TaskID:  taskID,
			Email:   c.To,
			Subject: c.Subject,
		},
		render:   func() (*render.Message, error) { return d.renderer.Custom(c) },
		sentText: func() string { return "custom email sent to " + c.To },
	})
}

type job struct {
	taskID   string
	taskName string
	pending  record.PendingParams
	render   func() (*render.Message, error)
	sentText func() string
}

func (d *Dispatcher) run(ctx context.Context, j job) *Outcome {
	log := logger.ForTask(d.log, j.taskID, j.taskName)
	out := &Outcome{TaskID: j.taskID}

	pendingCtx, cancel := context.WithTimeout(ctx, d.cfg.TrackingTimeout)
	_, err := d.store.UpsertPending(pendingCtx, j.pending)
	cancel()
	if err != nil {
		d.trackingFailed(log, out, opUpsertPending, err)
	}

	// The outcome is recorded even when the task ctx ended during the send.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.TrackingTimeout)
	defer cancel()

	err = d.deliver(ctx, log, j)
	if err != nil {
		log.Error().Err(err).Str("email", j.pending.Email).Msg("delivery failed")
		out.Status = record.StatusFailed
		out.Err = err
		out.Text = "failed: " + err.Error()

		if _, terr := d.store.MarkFailed(finalCtx, j.taskID, err.Error()); terr != nil {
			d.trackingFailed(log, out, opMarkFailed, terr)
		}
	} else {
		log.Info().Str("email", j.pending.Email).Msg("message sent")
		out.Status = record.StatusSent
		out.Text = j.sentText()

		updated, terr := d.store.MarkSent(finalCtx, j.taskID, d.now().UTC())
		switch {
		case terr != nil:
			d.trackingFailed(log, out, opMarkSent, terr)
		case !updated:
			log.Debug().Msg("no delivery record to mark sent")
		}
	}

	DeliveriesTotal.WithLabelValues(j.taskName, string(out.Status)).Inc()
	return out
}

// deliver renders, composes, archives and sends one message.
func (d *Dispatcher) deliver(ctx context.Context, log zerolog.Logger, j job) error {
	rendered, err := j.render()
	if err != nil {
		return err
	}

	msg, err := transport.Compose(transport.Envelope{
		ID:       j.taskID,
		FromName: d.cfg.FromName,
		From:     d.cfg.FromEmail,
		To:       j.pending.Email,
		Subject:  rendered.Subject,
		Text:     rendered.Text,
		HTML:     rendered.HTML,
		Date:     d.now(),
	})
	if err != nil {
		return err
	}

	if err := d.archive.Put(ctx, j.taskID, msg.Raw); err != nil {
		ArchiveWriteFailuresTotal.Inc()
		log.Warn().Err(err).Msg("failed to archive message")
	}

	start := time.Now()
	err = d.transport.Send(ctx, msg)
	SendDuration.WithLabelValues(d.transport.Name()).Observe(time.Since(start).Seconds())
	return err
}

func (d *Dispatcher) trackingFailed(log zerolog.Logger, out *Outcome, op string, err error) {
	TrackingWriteFailuresTotal.WithLabelValues(op).Inc()
	log.Warn().Err(err).Str("op", op).Msg("delivery record write failed")
	out.TrackingErrs = append(out.TrackingErrs, fmt.Errorf("%s: %w", op, err))
}
