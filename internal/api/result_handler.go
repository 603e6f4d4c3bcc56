package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/queue"
)

const (
	maxResultWait      = 30 * time.Second
	resultPollInterval = 250 * time.Millisecond
)

// GetTaskResultHandler handles GET /api/v1/tasks/{task_id}/result.
//
// With ?wait=<duration> (capped at 30s) the handler polls until the task
// reaches SUCCESS or FAILURE and returns whatever state it last saw.
func GetTaskResultHandler(results queue.ResultBackend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := taskIDParam(r)

		var wait time.Duration
		if raw := r.URL.Query().Get("wait"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d < 0 {
				respondError(w, http.StatusBadRequest, "wait must be a non-negative duration")
				return
			}
			wait = min(d, maxResultWait)
		}

		var (
			res *queue.Result
			err error
		)
		if wait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			res, err = queue.WaitForResult(ctx, results, taskID, resultPollInterval)
			cancel()
			if errors.Is(err, context.DeadlineExceeded) {
				if res == nil {
					err = queue.ErrResultNotFound
				} else {
					err = nil
				}
			}
		} else {
			res, err = results.Get(r.Context(), taskID)
		}

		if errors.Is(err, queue.ErrResultNotFound) {
			respondError(w, http.StatusNotFound, "task result not found")
			return
		}
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("task_id", taskID).Msg("get task result")
			respondError(w, http.StatusInternalServerError, "failed to get task result")
			return
		}

		respondJSON(w, http.StatusOK, res)
	}
}
