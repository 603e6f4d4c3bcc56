package record

import (
	"context"
	"errors"
	"testing"
	"time"
)

func pending(taskID string) PendingParams {
	return PendingParams{
		TaskID:     taskID,
		Email:      "learner@example.com",
		Subject:    "Welcome",
		CourseName: "Go 101",
		UserID:     "42",
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.UpsertPending(ctx, pending("t1"))
	if err != nil {
		t.Fatalf("UpsertPending() error = %v", err)
	}
	if rec.Status != StatusPending || rec.SentAt != nil || rec.ErrorMessage != "" {
		t.Errorf("new record = %+v, want clean pending", rec)
	}

	sentAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ok, err := s.MarkSent(ctx, "t1", sentAt)
	if err != nil || !ok {
		t.Fatalf("MarkSent() = %v, %v", ok, err)
	}

	got, err := s.GetByTaskID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByTaskID() error = %v", err)
	}
	if got.Status != StatusSent || got.SentAt == nil || !got.SentAt.Equal(sentAt) {
		t.Errorf("after MarkSent = %+v", got)
	}
}

func TestMemoryStore_UpsertDoesNotResurrect(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		mark func(s *MemoryStore)
		want Status
	}{
		{"sent", func(s *MemoryStore) { _, _ = s.MarkSent(ctx, "t1", time.Now()) }, StatusSent},
		{"failed", func(s *MemoryStore) { _, _ = s.MarkFailed(ctx, "t1", "boom") }, StatusFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := NewMemoryStore()
			_, _ = s.UpsertPending(ctx, pending("t1"))
			tc.mark(s)

			p := pending("t1")
			p.Subject = "Refreshed"
			rec, err := s.UpsertPending(ctx, p)
			if err != nil {
				t.Fatalf("UpsertPending() error = %v", err)
			}
			if rec.Status != tc.want {
				t.Errorf("status = %s, want %s", rec.Status, tc.want)
			}
			if rec.Subject != "Refreshed" {
				t.Errorf("subject = %q, want descriptive fields refreshed", rec.Subject)
			}
			if s.Len() != 1 {
				t.Errorf("Len() = %d, want 1", s.Len())
			}
		})
	}
}

func TestMemoryStore_MarkFailedThenSent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.UpsertPending(ctx, pending("t1"))

	if ok, _ := s.MarkFailed(ctx, "t1", "421 try later"); !ok {
		t.Fatal("MarkFailed() = false")
	}
	got, _ := s.GetByTaskID(ctx, "t1")
	if got.Status != StatusFailed || got.ErrorMessage != "421 try later" || got.SentAt != nil {
		t.Errorf("after MarkFailed = %+v", got)
	}

	if ok, _ := s.MarkSent(ctx, "t1", time.Now()); !ok {
		t.Fatal("MarkSent() = false")
	}
	got, _ = s.GetByTaskID(ctx, "t1")
	if got.Status != StatusSent || got.ErrorMessage != "" || got.SentAt == nil {
		t.Errorf("after MarkSent = %+v, want error cleared", got)
	}
}

func TestMemoryStore_MissingRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if ok, err := s.MarkSent(ctx, "nope", time.Now()); ok || err != nil {
		t.Errorf("MarkSent(missing) = %v, %v, want false, nil", ok, err)
	}
	if ok, err := s.MarkFailed(ctx, "nope", "x"); ok || err != nil {
		t.Errorf("MarkFailed(missing) = %v, %v, want false, nil", ok, err)
	}
	if _, err := s.GetByTaskID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByTaskID(missing) error = %v, want ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Error("marking a missing record must not create one")
	}
}

func TestMemoryStore_MarkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.UpsertPending(ctx, pending("t1"))

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, _ = s.MarkSent(ctx, "t1", at)
	first, _ := s.GetByTaskID(ctx, "t1")
	_, _ = s.MarkSent(ctx, "t1", at)
	second, _ := s.GetByTaskID(ctx, "t1")

	first.UpdatedAt, second.UpdatedAt = time.Time{}, time.Time{}
	if first.Status != second.Status || !first.SentAt.Equal(*second.SentAt) || first.ErrorMessage != second.ErrorMessage {
		t.Errorf("repeated MarkSent changed more than updated_at: %+v vs %+v", first, second)
	}
}

func TestMemoryStore_UpdatedAtMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	_, _ = s.UpsertPending(ctx, pending("t1"))

	clock = clock.Add(-time.Hour) // wall clock stepped back
	_, _ = s.MarkFailed(ctx, "t1", "x")

	got, _ := s.GetByTaskID(ctx, "t1")
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("updated_at %v went before created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, _ := s.UpsertPending(ctx, pending("t1"))
	rec.Status = StatusSent

	got, _ := s.GetByTaskID(ctx, "t1")
	if got.Status != StatusPending {
		t.Error("mutating a returned record leaked into the store")
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := map[Status]bool{StatusPending: false, StatusSent: true, StatusFailed: true}
	for s, want := range tests {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
