// Package record persists the delivery lifecycle of each task:
// pending, then sent or failed.
package record

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by GetByTaskID when no record exists.
	ErrNotFound = errors.New("delivery record not found")
	// ErrStoreUnavailable is wrapped by every error caused by the store
	// being unreachable.
	ErrStoreUnavailable = errors.New("delivery record store unavailable")
)

// Status is the delivery state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Record is one delivery attempt, keyed by task id.
type Record struct {
	ID           int64      `json:"id"`
	TaskID       string     `json:"task_id"`
	Email        string     `json:"email"`
	Subject      string     `json:"subject"`
	CourseName   string     `json:"course_name"`
	UserID       string     `json:"user_id"`
	UserName     string     `json:"user_name,omitempty"`
	Status       Status     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PendingParams are the descriptive fields written when a task starts.
type PendingParams struct {
	TaskID     string
	Email      string
	Subject    string
	CourseName string
	UserID     string
	UserName   string
}

// Store is the delivery record store.
//
// UpsertPending creates a pending record or refreshes the descriptive fields
// of an existing one; it never moves a sent or failed record back to pending.
// MarkSent and MarkFailed report false without error when no record exists.
type Store interface {
	UpsertPending(ctx context.Context, p PendingParams) (*Record, error)
	MarkSent(ctx context.Context, taskID string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, taskID, errorMessage string) (bool, error)
	GetByTaskID(ctx context.Context, taskID string) (*Record, error)
}
