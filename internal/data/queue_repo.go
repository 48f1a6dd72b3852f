package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/data/pgxutil"
	"github.com/psyassess/assessd/internal/domain/model"
	apperrors "github.com/psyassess/assessd/internal/errors"
)

// AssessmentEnqueuedChannel is the LISTEN/NOTIFY channel signalled on every enqueue.
const AssessmentEnqueuedChannel = "assessment_enqueued"

// requeueLockKey serializes expired-lease recovery across reaper instances.
const requeueLockKey int64 = 0x71756575 // "queu"

// QueueRepo is the PostgreSQL-backed analysis queue.
type QueueRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewQueueRepo creates a QueueRepo.
func NewQueueRepo(db *sql.DB, cfg RepoConfig) *QueueRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "queue_repo"),
	}
}

// QueueStats summarizes the queue for metrics and the admin CLI.
type QueueStats struct {
	Queued  int64
	Leased  int64
	Expired int64
}

// Enqueue schedules id for analysis and wakes listening workers.
// An id that is already queued is left untouched.
func (q *QueueRepo) Enqueue(ctx context.Context, assessmentID string) error {
	if _, err := parseID(assessmentID); err != nil {
		return err
	}

	err := pgxutil.InTx(ctx, q.DB, pgxutil.TxParams{Fn: func(tx pgx.Tx) error {
		if _, execErr := tx.Exec(ctx, `
			INSERT INTO analysis_queue (assessment_id, enqueued_at)
			VALUES ($1, $2)
			ON CONFLICT (assessment_id) DO NOTHING
		`, assessmentID, q.timeProvider.Now()); execErr != nil {
			return execErr
		}
		_, notifyErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, AssessmentEnqueuedChannel, assessmentID)
		return notifyErr
	}})
	if err == nil {
		return nil
	}

	mapped := apperrors.MapDBError(err)
	if apperrors.IsForeignKey(mapped) {
		return fmt.Errorf("enqueue: %w: %s", model.ErrAssessmentNotFound, assessmentID)
	}
	return fmt.Errorf("enqueue assessment: %w", mapped)
}

const reserveNextSQL = `
  WITH next AS (
    SELECT assessment_id
    FROM analysis_queue
    WHERE lease_expires_at IS NULL OR lease_expires_at <= $1
    ORDER BY enqueued_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE analysis_queue q
  SET lease_expires_at = $2,
      attempts = q.attempts + 1
  FROM next
  WHERE q.assessment_id = next.assessment_id
  RETURNING q.assessment_id::text, q.attempts, q.enqueued_at, q.lease_expires_at`

// ReserveNext leases the oldest available entry. Entries whose lease expired are
// available again. Returns model.ErrQueueEmpty when nothing can be reserved.
func (q *QueueRepo) ReserveNext(ctx context.Context, lease time.Duration) (*core.QueueEntry, error) {
	if lease <= 0 {
		return nil, fmt.Errorf("reserve: lease must be positive, got %s", lease)
	}

	now := q.timeProvider.Now()
	var entry core.QueueEntry
	err := pgxutil.OnConn(ctx, q.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, reserveNextSQL, now, now.Add(lease)).Scan(
			&entry.AssessmentID,
			&entry.Attempts,
			&entry.EnqueuedAt,
			&entry.LeaseExpiresAt,
		)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reserve next assessment: %w", err)
	}
	return &entry, nil
}

// Ack removes the entry for id. Acking an entry that is already gone is not an error.
func (q *QueueRepo) Ack(ctx context.Context, assessmentID string) error {
	if _, err := parseID(assessmentID); err != nil {
		return err
	}
	if _, err := q.DB.ExecContext(ctx, `DELETE FROM analysis_queue WHERE assessment_id = $1`, assessmentID); err != nil {
		return fmt.Errorf("ack assessment %s: %w", assessmentID, err)
	}
	return nil
}

// WaitForNotification blocks until an enqueue notification arrives or ctx ends.
func (q *QueueRepo) WaitForNotification(ctx context.Context) error {
	conn, err := q.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	quoted := pgx.Identifier{AssessmentEnqueuedChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", AssessmentEnqueuedChannel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return pgxutil.ErrUnexpectedDriverConn
		}
		_, waitErr := sc.Conn().WaitForNotification(ctx)
		return waitErr
	})
}

// RequeueExpired clears expired leases so entries are immediately visible again,
// and wakes workers if anything was released. Returns the number of entries released.
func (q *QueueRepo) RequeueExpired(ctx context.Context) (int64, error) {
	var released int64
	err := pgxutil.InSQLTx(ctx, q.DB, pgxutil.SQLTxParams{Fn: func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, requeueLockKey).Scan(&locked); err != nil {
			return fmt.Errorf("acquire requeue lock: %w", err)
		}
		if !locked {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE analysis_queue
			SET lease_expires_at = NULL
			WHERE lease_expires_at IS NOT NULL AND lease_expires_at <= $1
		`, q.timeProvider.Now())
		if err != nil {
			return fmt.Errorf("release expired leases: %w", err)
		}
		released, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("release expired leases rows: %w", err)
		}
		if released == 0 {
			return nil
		}
		if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1::text, '')`, AssessmentEnqueuedChannel); err != nil {
			return fmt.Errorf("notify requeue: %w", err)
		}
		return nil
	}})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		q.logger.InfoContext(ctx, "released expired queue leases", "count", released)
	}
	return released, nil
}

// Stats reports queue depth split by lease state.
func (q *QueueRepo) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	err := q.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE lease_expires_at IS NULL),
			count(*) FILTER (WHERE lease_expires_at > $1),
			count(*) FILTER (WHERE lease_expires_at <= $1)
		FROM analysis_queue
	`, q.timeProvider.Now()).Scan(&stats.Queued, &stats.Leased, &stats.Expired)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

var (
	_ core.Queue           = (*QueueRepo)(nil)
	_ core.QueueMaintainer = (*QueueRepo)(nil)
)
