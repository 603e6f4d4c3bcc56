package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const readyzTimeout = 3 * time.Second

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzResponse is the JSON body of GET /readyz.
type readyzResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ReadyzHandler handles GET /readyz.
// Pings every dependency in checks. Returns 200 when all are reachable,
// otherwise 503 with a Retry-After header and the failing checks.
func ReadyzHandler(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
		defer cancel()

		resp := readyzResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		for _, name := range names {
			if err := checks[name].Ping(ctx); err != nil {
				resp.Status = "unavailable"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}

		if resp.Status != "ok" {
			w.Header().Set("Retry-After", "30")
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
