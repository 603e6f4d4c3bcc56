package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps request bodies; custom email bodies are the largest.
const maxBodyBytes = 1 << 20

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondValidationErrors writes a 400 response with a list of validation error details.
func respondValidationErrors(w http.ResponseWriter, details []string) {
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation_failed",
		"details": details,
	})
}

// decodeJSON decodes a size-limited request body into v, rejecting unknown
// fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

func taskIDParam(r *http.Request) string {
	return chi.URLParam(r, "task_id")
}
