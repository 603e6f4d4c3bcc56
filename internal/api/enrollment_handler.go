package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/sungwon/enroll-notify/internal/enrollment"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/producer"
	"github.com/sungwon/enroll-notify/internal/queue"
)

// Enqueuer publishes notification tasks. *producer.Producer implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req producer.EnrollmentRequest) (string, error)
	EnqueueCustom(ctx context.Context, email enrollment.CustomEmail) (string, error)
}

// enrollmentRequest is the JSON body for POST /api/v1/enrollments.
type enrollmentRequest struct {
	CourseName string `json:"course_name"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	UserName   string `json:"user_name"`
}

// enqueueResponse is returned for every accepted task.
type enqueueResponse struct {
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name"`
	Status   string `json:"status"`
}

// EnqueueEnrollmentHandler handles POST /api/v1/enrollments.
// It returns 202 with the task id as soon as the task is queued.
func EnqueueEnrollmentHandler(p Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrollmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		taskID, err := p.Enqueue(r.Context(), producer.EnrollmentRequest{
			CourseName: req.CourseName,
			UserID:     req.UserID,
			Email:      req.Email,
			UserName:   req.UserName,
		})
		if err != nil {
			respondEnqueueError(w, r, err)
			return
		}

		respondJSON(w, http.StatusAccepted, enqueueResponse{
			TaskID:   taskID,
			TaskName: enrollment.TaskSendCourseEnrollmentEmail,
			Status:   string(queue.StatePending),
		})
	}
}

// EnqueueCustomHandler handles POST /api/v1/emails.
func EnqueueCustomHandler(p Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrollment.CustomEmail
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		taskID, err := p.EnqueueCustom(r.Context(), req)
		if err != nil {
			respondEnqueueError(w, r, err)
			return
		}

		respondJSON(w, http.StatusAccepted, enqueueResponse{
			TaskID:   taskID,
			TaskName: enrollment.TaskSendCustomEmail,
			Status:   string(queue.StatePending),
		})
	}
}

func respondEnqueueError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *enrollment.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		details := make([]string, len(missing.Fields))
		for i, f := range missing.Fields {
			details[i] = f + " is required"
		}
		respondValidationErrors(w, details)
	case errors.Is(err, producer.ErrInvalidRequest):
		respondValidationErrors(w, []string{err.Error()})
	case errors.Is(err, queue.ErrQueueUnavailable):
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("enqueue failed")
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, "queue unavailable")
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("enqueue failed")
		respondError(w, http.StatusInternalServerError, "enqueue failed")
	}
}
