//go:build integration

package record_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/record"
	"github.com/sungwon/enroll-notify/internal/storage"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var sharedStore *record.PostgresStore

// TestMain starts a PostgreSQL container; the store applies its own schema.
func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, _ := pgContainer.Host(ctx)
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	cfg := storage.DefaultConfig()
	cfg.URL = fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())
	cfg.BootstrapAttempts = 5
	cfg.BootstrapDelay = time.Second

	sharedStore = record.NewPostgresStore(cfg, zerolog.Nop())
	if err := sharedStore.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap store: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	sharedStore.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

func newParams() record.PendingParams {
	return record.PendingParams{
		TaskID:     uuid.New().String(),
		Email:      "learner@example.com",
		Subject:    "Welcome to Go 101",
		CourseName: "Go 101",
		UserID:     "42",
	}
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := newParams()

	rec, err := sharedStore.UpsertPending(ctx, p)
	if err != nil {
		t.Fatalf("UpsertPending() error = %v", err)
	}
	if rec.Status != record.StatusPending || rec.TaskID != p.TaskID || rec.UserName != "" {
		t.Errorf("pending record = %+v", rec)
	}

	sentAt := time.Now().UTC().Truncate(time.Microsecond)
	ok, err := sharedStore.MarkSent(ctx, p.TaskID, sentAt)
	if err != nil || !ok {
		t.Fatalf("MarkSent() = %v, %v", ok, err)
	}

	got, err := sharedStore.GetByTaskID(ctx, p.TaskID)
	if err != nil {
		t.Fatalf("GetByTaskID() error = %v", err)
	}
	if got.Status != record.StatusSent || got.SentAt == nil || !got.SentAt.Equal(sentAt) {
		t.Errorf("sent record = %+v", got)
	}
	if got.UpdatedAt.Before(rec.UpdatedAt) {
		t.Errorf("updated_at moved backwards: %v < %v", got.UpdatedAt, rec.UpdatedAt)
	}
}

func TestPostgresStore_UpsertDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	p := newParams()

	_, _ = sharedStore.UpsertPending(ctx, p)
	if ok, err := sharedStore.MarkFailed(ctx, p.TaskID, "550 no such user"); err != nil || !ok {
		t.Fatalf("MarkFailed() = %v, %v", ok, err)
	}

	p.UserName = "Ada"
	rec, err := sharedStore.UpsertPending(ctx, p)
	if err != nil {
		t.Fatalf("UpsertPending() error = %v", err)
	}
	if rec.Status != record.StatusFailed || rec.ErrorMessage != "550 no such user" {
		t.Errorf("record after re-upsert = %+v, want failed kept", rec)
	}
	if rec.UserName != "Ada" {
		t.Errorf("user_name = %q, want refreshed", rec.UserName)
	}
}

func TestPostgresStore_FailedThenSentClearsError(t *testing.T) {
	ctx := context.Background()
	p := newParams()
	_, _ = sharedStore.UpsertPending(ctx, p)
	_, _ = sharedStore.MarkFailed(ctx, p.TaskID, "timeout")
	_, _ = sharedStore.MarkSent(ctx, p.TaskID, time.Now())

	got, err := sharedStore.GetByTaskID(ctx, p.TaskID)
	if err != nil {
		t.Fatalf("GetByTaskID() error = %v", err)
	}
	if got.Status != record.StatusSent || got.ErrorMessage != "" {
		t.Errorf("record = %+v, want sent with error cleared", got)
	}
}

func TestPostgresStore_MissingRecord(t *testing.T) {
	ctx := context.Background()
	id := uuid.New().String()

	if ok, err := sharedStore.MarkSent(ctx, id, time.Now()); ok || err != nil {
		t.Errorf("MarkSent(missing) = %v, %v", ok, err)
	}
	if _, err := sharedStore.GetByTaskID(ctx, id); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("GetByTaskID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_ConcurrentUpsertsKeepOneRow(t *testing.T) {
	ctx := context.Background()
	p := newParams()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sharedStore.UpsertPending(ctx, p); err != nil {
				t.Errorf("UpsertPending() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := sharedStore.GetByTaskID(ctx, p.TaskID)
	if err != nil {
		t.Fatalf("GetByTaskID() error = %v", err)
	}
	if got.Status != record.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestPostgresStore_Unreachable(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.URL = "postgres://x:x@127.0.0.1:1/x?sslmode=disable"
	cfg.ConnectTimeout = 500 * time.Millisecond

	s := record.NewPostgresStore(cfg, zerolog.Nop())
	_, err := s.UpsertPending(context.Background(), newParams())
	if !errors.Is(err, record.ErrStoreUnavailable) {
		t.Errorf("UpsertPending() error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.GetByTaskID(context.Background(), "x"); !errors.Is(err, record.ErrStoreUnavailable) {
		t.Errorf("GetByTaskID() error = %v, want ErrStoreUnavailable", err)
	}
}
