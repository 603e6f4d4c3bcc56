package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/sungwon/enroll-notify/internal/archive"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/record"
)

// RecordReader looks up delivery records. Every record.Store implements it.
type RecordReader interface {
	GetByTaskID(ctx context.Context, taskID string) (*record.Record, error)
}

// GetDeliveryHandler handles GET /api/v1/deliveries/{task_id}.
// A task without a record is 404; an unreachable store is 503.
func GetDeliveryHandler(records RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := taskIDParam(r)

		rec, err := records.GetByTaskID(r.Context(), taskID)
		switch {
		case errors.Is(err, record.ErrNotFound):
			respondError(w, http.StatusNotFound, "delivery record not found")
			return
		case errors.Is(err, record.ErrStoreUnavailable):
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Str("task_id", taskID).Msg("record store unavailable")
			w.Header().Set("Retry-After", "30")
			respondError(w, http.StatusServiceUnavailable, "delivery record store unavailable")
			return
		case err != nil:
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("task_id", taskID).Msg("get delivery record")
			respondError(w, http.StatusInternalServerError, "failed to get delivery record")
			return
		}

		respondJSON(w, http.StatusOK, rec)
	}
}

// GetDeliveryMessageHandler handles GET /api/v1/deliveries/{task_id}/message.
// It returns the archived message as message/rfc822.
func GetDeliveryMessageHandler(arch archive.Archive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := taskIDParam(r)

		raw, err := arch.Get(r.Context(), taskID)
		if errors.Is(err, archive.ErrNotFound) {
			respondError(w, http.StatusNotFound, "message not archived")
			return
		}
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("task_id", taskID).Msg("get archived message")
			respondError(w, http.StatusInternalServerError, "failed to get archived message")
			return
		}

		w.Header().Set("Content-Type", "message/rfc822")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	}
}
