package record

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by the dev worker and tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// touch advances updated_at without ever moving it backwards.
func (m *MemoryStore) touch(r *Record) {
	if now := m.now(); now.After(r.UpdatedAt) {
		r.UpdatedAt = now
	}
}

// UpsertPending implements Store.
func (m *MemoryStore) UpsertPending(_ context.Context, p PendingParams) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[p.TaskID]
	if !ok {
		m.nextID++
		now := m.now()
		r = &Record{
			ID:        m.nextID,
			TaskID:    p.TaskID,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.records[p.TaskID] = r
	} else {
		m.touch(r)
	}

	r.Email = p.Email
	r.Subject = p.Subject
	r.CourseName = p.CourseName
	r.UserID = p.UserID
	r.UserName = p.UserName

	return clone(r), nil
}

// MarkSent implements Store.
func (m *MemoryStore) MarkSent(_ context.Context, taskID string, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[taskID]
	if !ok {
		return false, nil
	}
	at := sentAt
	r.Status = StatusSent
	r.SentAt = &at
	r.ErrorMessage = ""
	m.touch(r)
	return true, nil
}

// MarkFailed implements Store.
func (m *MemoryStore) MarkFailed(_ context.Context, taskID, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[taskID]
	if !ok {
		return false, nil
	}
	r.Status = StatusFailed
	r.SentAt = nil
	r.ErrorMessage = errorMessage
	m.touch(r)
	return true, nil
}

// GetByTaskID implements Store.
func (m *MemoryStore) GetByTaskID(_ context.Context, taskID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

// Len returns the number of records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func clone(r *Record) *Record {
	c := *r
	if r.SentAt != nil {
		at := *r.SentAt
		c.SentAt = &at
	}
	return &c
}
