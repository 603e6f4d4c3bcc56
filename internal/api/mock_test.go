package api

import (
	"context"
	"sync"

	"github.com/sungwon/enroll-notify/internal/enrollment"
	"github.com/sungwon/enroll-notify/internal/producer"
	"github.com/sungwon/enroll-notify/internal/queue"
	"github.com/sungwon/enroll-notify/internal/record"
)

// mockEnqueuer records requests and returns fixed ids or err.
type mockEnqueuer struct {
	mu      sync.Mutex
	err     error
	taskID  string
	enrolls []producer.EnrollmentRequest
	customs []enrollment.CustomEmail
}

func (m *mockEnqueuer) Enqueue(_ context.Context, req producer.EnrollmentRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.enrolls = append(m.enrolls, req)
	return m.taskID, nil
}

func (m *mockEnqueuer) EnqueueCustom(_ context.Context, email enrollment.CustomEmail) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.customs = append(m.customs, email)
	return m.taskID, nil
}

// mockRecords returns rec or err for every lookup.
type mockRecords struct {
	rec *record.Record
	err error
}

func (m *mockRecords) GetByTaskID(_ context.Context, taskID string) (*record.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.rec == nil || m.rec.TaskID != taskID {
		return nil, record.ErrNotFound
	}
	return m.rec, nil
}

// mockResults is an in-memory queue.ResultBackend.
type mockResults struct {
	mu      sync.Mutex
	results map[string]*queue.Result
	err     error
	// gets counts Get calls; afterGets replaces the stored result once
	// gets reaches that count.
	gets      int
	afterGets int
	next      *queue.Result
}

func newMockResults() *mockResults {
	return &mockResults{results: make(map[string]*queue.Result)}
}

func (m *mockResults) Store(_ context.Context, res *queue.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[res.TaskID] = res
	return nil
}

func (m *mockResults) Get(_ context.Context, taskID string) (*queue.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.gets++
	if m.next != nil && m.gets >= m.afterGets {
		m.results[m.next.TaskID] = m.next
		m.next = nil
	}
	res, ok := m.results[taskID]
	if !ok {
		return nil, queue.ErrResultNotFound
	}
	cp := *res
	return &cp, nil
}

// mockDLQ records Reprocess calls.
type mockDLQ struct {
	taskName string
	ids      []string
	n        int
	err      error
}

func (m *mockDLQ) MoveToDLQ(context.Context, *queue.Message, string) error { return nil }

func (m *mockDLQ) Reprocess(_ context.Context, taskName string, ids []string) (int, error) {
	m.taskName = taskName
	m.ids = ids
	return m.n, m.err
}
