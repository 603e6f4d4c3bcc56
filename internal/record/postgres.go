package record

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/metrics"
	"github.com/sungwon/enroll-notify/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const recordColumns = `id, task_id, email, COALESCE(subject, ''), COALESCE(course_name, ''),
	COALESCE(user_id, ''), COALESCE(user_name, ''), status, sent_at,
	COALESCE(error_message, ''), created_at, updated_at`

const upsertPendingSQL = `
INSERT INTO email_tracking (task_id, email, subject, course_name, user_id, user_name, status)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), 'pending')
ON CONFLICT (task_id) DO UPDATE SET
	email       = EXCLUDED.email,
	subject     = EXCLUDED.subject,
	course_name = EXCLUDED.course_name,
	user_id     = EXCLUDED.user_id,
	user_name   = EXCLUDED.user_name,
	updated_at  = GREATEST(email_tracking.updated_at, now())
RETURNING ` + recordColumns

const markSentSQL = `
UPDATE email_tracking
SET status = 'sent', sent_at = $2, error_message = NULL,
	updated_at = GREATEST(updated_at, now())
WHERE task_id = $1`

const markFailedSQL = `
UPDATE email_tracking
SET status = 'failed', error_message = $2, sent_at = NULL,
	updated_at = GREATEST(updated_at, now())
WHERE task_id = $1`

const getByTaskIDSQL = `SELECT ` + recordColumns + ` FROM email_tracking WHERE task_id = $1`

// errConnecting is returned while another caller is setting up the pool.
var errConnecting = errors.New("connection setup in progress")

// PostgresStore keeps records in the email_tracking table. The pool and the
// schema are set up by Bootstrap. Until that succeeds a call makes one
// connection attempt of its own when no other setup is running, and fails
// fast with ErrStoreUnavailable otherwise.
type PostgresStore struct {
	cfg storage.Config
	log zerolog.Logger

	mu         sync.Mutex
	db         *storage.DB
	ready      bool // schema applied on db
	connecting int  // setups in flight
}

// NewPostgresStore returns a store that connects lazily.
func NewPostgresStore(cfg storage.Config, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{cfg: cfg, log: log}
}

// NewPostgresStoreWithDB returns a store on an existing pool. The schema is
// still applied on first use.
func NewPostgresStoreWithDB(db *storage.DB, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// Bootstrap waits for the database with the bounded retry schedule of the
// storage config and applies the schema. Workers run it in the background so
// that consuming tasks never waits on it.
func (s *PostgresStore) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	s.connecting++
	s.mu.Unlock()

	err := s.setup(ctx, func(ctx context.Context) (*storage.DB, error) {
		return storage.WaitForDB(ctx, s.cfg, s.log)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.log.Info().Msg("delivery record store ready")
	return nil
}

// conn returns a pool with the schema applied. No lock is held while
// connecting, and a caller that finds a setup already running gets
// ErrStoreUnavailable at once instead of queueing behind it.
func (s *PostgresStore) conn(ctx context.Context) (*storage.DB, error) {
	s.mu.Lock()
	if s.ready {
		db := s.db
		s.mu.Unlock()
		return db, nil
	}
	if s.connecting > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, errConnecting)
	}
	s.connecting++
	s.mu.Unlock()

	if err := s.setup(ctx, func(ctx context.Context) (*storage.DB, error) {
		return storage.NewDB(ctx, s.cfg)
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db, nil
}

// setup opens a pool with open when there is none yet and applies the
// schema. The caller has incremented s.connecting; setup releases it.
func (s *PostgresStore) setup(ctx context.Context, open func(context.Context) (*storage.DB, error)) error {
	defer func() {
		s.mu.Lock()
		s.connecting--
		s.mu.Unlock()
	}()

	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if db == nil {
		fresh, err := open(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.db == nil {
			s.db = fresh
		} else {
			fresh.Close()
		}
		db = s.db
		s.mu.Unlock()
	}

	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != db {
		return errors.New("store closed during setup")
	}
	s.ready = true
	return nil
}

// UpsertPending implements Store.
func (s *PostgresStore) UpsertPending(ctx context.Context, p PendingParams) (*Record, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	row := db.Pool.QueryRow(ctx, upsertPendingSQL,
		p.TaskID, p.Email, p.Subject, p.CourseName, p.UserID, p.UserName)
	rec, err := scanRecord(row)
	metrics.ObserveQuery("upsert_pending", start, err)
	if err != nil {
		return nil, storeError("upsert pending "+p.TaskID, err)
	}
	return rec, nil
}

// MarkSent implements Store.
func (s *PostgresStore) MarkSent(ctx context.Context, taskID string, sentAt time.Time) (bool, error) {
	return s.update(ctx, "mark_sent", markSentSQL, taskID, sentAt)
}

// MarkFailed implements Store.
func (s *PostgresStore) MarkFailed(ctx context.Context, taskID, errorMessage string) (bool, error) {
	return s.update(ctx, "mark_failed", markFailedSQL, taskID, errorMessage)
}

// update runs one of the status updates; args[0] is the task id.
func (s *PostgresStore) update(ctx context.Context, query, sql string, args ...any) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	start := time.Now()
	tag, err := db.Pool.Exec(ctx, sql, args...)
	metrics.ObserveQuery(query, start, err)
	if err != nil {
		return false, storeError(fmt.Sprintf("%s %v", query, args[0]), err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByTaskID implements Store.
func (s *PostgresStore) GetByTaskID(ctx context.Context, taskID string) (*Record, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rec, err := scanRecord(db.Pool.QueryRow(ctx, getByTaskIDSQL, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveQuery("get_by_task_id", start, nil)
		return nil, ErrNotFound
	}
	metrics.ObserveQuery("get_by_task_id", start, err)
	if err != nil {
		return nil, storeError("get "+taskID, err)
	}
	return rec, nil
}

// Ping checks that the store is reachable and initialised.
func (s *PostgresStore) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ObservePool publishes pool connection counts. It is a no-op until the
// store is connected.
func (s *PostgresStore) ObservePool() {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db != nil {
		metrics.ObservePool(db.Pool)
	}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
		s.ready = false
	}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r      Record
		status string
	)
	err := row.Scan(
		&r.ID, &r.TaskID, &r.Email, &r.Subject, &r.CourseName,
		&r.UserID, &r.UserName, &status, &r.SentAt,
		&r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

// storeError wraps err with op. Errors reported by the server itself are
// returned as is; anything else means the store could not be reached.
func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
