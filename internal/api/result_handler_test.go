package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/sungwon/enroll-notify/internal/queue"
)

func TestGetTaskResultHandler(t *testing.T) {
	results := newMockResults()
	results.results["task-1"] = &queue.Result{TaskID: "task-1", State: queue.StateSuccess, Result: "sent to a@example.com"}
	results.results["task-2"] = &queue.Result{TaskID: "task-2", State: queue.StatePending}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantState  queue.State
	}{
		{name: "success", path: "/tasks/task-1/result", wantStatus: http.StatusOK, wantState: queue.StateSuccess},
		{name: "pending", path: "/tasks/task-2/result", wantStatus: http.StatusOK, wantState: queue.StatePending},
		{name: "unknown", path: "/tasks/nope/result", wantStatus: http.StatusNotFound},
		{name: "bad wait", path: "/tasks/task-1/result?wait=soon", wantStatus: http.StatusBadRequest},
		{name: "wait returns last state", path: "/tasks/task-2/result?wait=300ms", wantStatus: http.StatusOK, wantState: queue.StatePending},
		{name: "wait unknown", path: "/tasks/nope/result?wait=300ms", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveWithTaskID("/tasks/{task_id}/result", GetTaskResultHandler(results), tt.path)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d; body: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got queue.Result
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.State != tt.wantState {
				t.Errorf("state = %s, want %s", got.State, tt.wantState)
			}
		})
	}
}

func TestGetTaskResultHandler_WaitUntilReady(t *testing.T) {
	results := newMockResults()
	results.results["task-3"] = &queue.Result{TaskID: "task-3", State: queue.StatePending}
	results.next = &queue.Result{TaskID: "task-3", State: queue.StateFailure, Result: "failed: 550 mailbox unavailable"}
	results.afterGets = 2

	rec := serveWithTaskID("/tasks/{task_id}/result", GetTaskResultHandler(results), "/tasks/task-3/result?wait=5s")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got queue.Result
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.State != queue.StateFailure || got.Result != "failed: 550 mailbox unavailable" {
		t.Errorf("result = %+v", got)
	}
}

func TestGetTaskResultHandler_BackendError(t *testing.T) {
	results := newMockResults()
	results.err = errors.New("redis down")

	rec := serveWithTaskID("/tasks/{task_id}/result", GetTaskResultHandler(results), "/tasks/task-1/result")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
}
