package api

import (
	"net/http"

	"github.com/sungwon/enroll-notify/internal/auth"
	"github.com/sungwon/enroll-notify/internal/enrollment"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/queue"
)

// dlqReprocessRequest is the JSON body for POST /api/v1/dlq/reprocess.
// TaskName defaults to the enrollment task.
type dlqReprocessRequest struct {
	TaskName string   `json:"task_name"`
	IDs      []string `json:"ids"`
}

// dlqReprocessResponse is the JSON response for a DLQ reprocess operation.
type dlqReprocessResponse struct {
	TaskName    string `json:"task_name"`
	Reprocessed int    `json:"reprocessed"`
	Total       int    `json:"total"`
}

// DLQReprocessHandler handles POST /api/v1/dlq/reprocess.
// It re-enqueues dead-lettered tasks onto their primary queue. IDs are
// stream entry ids on Redis and task ids on SQS.
func DLQReprocessHandler(dlq queue.DeadLetterQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req dlqReprocessRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if len(req.IDs) == 0 {
			respondError(w, http.StatusBadRequest, "ids is required and must not be empty")
			return
		}
		if req.TaskName == "" {
			req.TaskName = enrollment.TaskSendCourseEnrollmentEmail
		}

		reprocessed, err := dlq.Reprocess(r.Context(), req.TaskName, req.IDs)
		if err != nil {
			log.Error().Err(err).
				Str("task_name", req.TaskName).
				Int("requested", len(req.IDs)).
				Int("reprocessed", reprocessed).
				Msg("dlq reprocess failed")
			respondError(w, http.StatusInternalServerError, "reprocess failed")
			return
		}

		log.Info().
			Str("task_name", req.TaskName).
			Str("subject", auth.SubjectFromContext(r.Context())).
			Int("reprocessed", reprocessed).
			Int("total", len(req.IDs)).
			Msg("dlq reprocess completed")

		respondJSON(w, http.StatusOK, dlqReprocessResponse{
			TaskName:    req.TaskName,
			Reprocessed: reprocessed,
			Total:       len(req.IDs),
		})
	}
}
