package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Job statuses. Transitions are monotonic: pending -> in_progress -> done.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

var (
	// ErrNotFound is returned by Status and Complete for unknown job ids
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when a non-done job already targets the record
	ErrConflict = errors.New("a job for this record is already queued or running")

	// ErrCapacityExceeded is returned when the storage budget is exhausted
	ErrCapacityExceeded = errors.New("storage capacity exceeded")
)

// TaskPayload describes the unit of work a job carries
type TaskPayload struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

// Job is one unit of queued ingestion work tied to a dataset id
type Job struct {
	ID         string
	RecordID   string
	Status     string
	Payload    TaskPayload
	EnqueuedAt time.Time
	ClaimedAt  *time.Time
}

// StorageAccountant reports aggregate dataset storage for the
// enqueue-time capacity check
type StorageAccountant interface {
	TotalStorage(ctx context.Context) (rawBytes, compressedBytes int64, err error)
}

// Config holds queue construction options
type Config struct {
	// CapacityBytes caps the total compressed dataset size; 0 disables
	// the capacity check.
	CapacityBytes int64

	// Accountant supplies the storage totals. May be nil when
	// CapacityBytes is 0.
	Accountant StorageAccountant
}

// Queue persists jobs in the shared metadata database and hands exactly
// one job at a time to a claimant. Claim and completion are single
// atomic statements against durable state, so the at-most-one-claimant
// property holds across process restarts.
type Queue struct {
	db            *sqlx.DB
	logger        *slog.Logger
	capacityBytes int64
	accountant    StorageAccountant
}

// New creates a Queue and ensures its schema exists
func New(db *sqlx.DB, logger *slog.Logger, cfg Config) (*Queue, error) {
	q := &Queue{
		db:            db,
		logger:        logger,
		capacityBytes: cfg.CapacityBytes,
		accountant:    cfg.Accountant,
	}

	if err := q.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to init queue schema: %w", err)
	}

	return q, nil
}

func (q *Queue) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id      TEXT PRIMARY KEY,
		record_id   TEXT NOT NULL,
		status      TEXT NOT NULL,
		payload     TEXT NOT NULL,
		enqueued_at TIMESTAMP NOT NULL,
		claimed_at  TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
	CREATE INDEX IF NOT EXISTS jobs_record_idx ON jobs (record_id);
	`
	if _, err := q.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// Enqueue writes a new pending job for the record. It fails with
// ErrCapacityExceeded when the compressed storage budget is exhausted
// and with ErrConflict when a non-done job already targets the record.
func (q *Queue) Enqueue(ctx context.Context, payload TaskPayload, recordID string) (string, error) {
	if q.capacityBytes > 0 && q.accountant != nil {
		_, compressed, err := q.accountant.TotalStorage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to check storage totals: %w", err)
		}
		if compressed >= q.capacityBytes {
			return "", fmt.Errorf("%w: %d of %d compressed bytes used", ErrCapacityExceeded, compressed, q.capacityBytes)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	jobID := uuid.New().String()

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pending int
	countQuery := q.db.Rebind(`SELECT COUNT(*) FROM jobs WHERE record_id = ? AND status != ?`)
	if err := tx.GetContext(ctx, &pending, countQuery, recordID, StatusDone); err != nil {
		return "", fmt.Errorf("failed to check for conflicting jobs: %w", err)
	}
	if pending > 0 {
		return "", fmt.Errorf("%w: record %s", ErrConflict, recordID)
	}

	insert := q.db.Rebind(`
		INSERT INTO jobs (job_id, record_id, status, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, insert, jobID, recordID, StatusPending, string(body), time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit enqueue: %w", err)
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("record_id", recordID),
		slog.String("kind", payload.Kind),
	)

	return jobID, nil
}

// ClaimNext atomically selects the oldest pending job, transitions it to
// in_progress, stamps the claim time, and returns it. It returns
// (nil, nil) when no pending job exists.
func (q *Queue) ClaimNext(ctx context.Context) (*Job, error) {
	claim := q.db.Rebind(`
		UPDATE jobs
		SET status = ?, claimed_at = ?
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = ?
			ORDER BY enqueued_at, job_id
			LIMIT 1
		)
		RETURNING job_id, record_id, payload, enqueued_at, claimed_at
	`)

	now := time.Now().UTC()

	var (
		job       Job
		body      string
		claimedAt time.Time
	)
	err := q.db.QueryRowxContext(ctx, claim, StatusInProgress, now, StatusPending).Scan(
		&job.ID, &job.RecordID, &body, &job.EnqueuedAt, &claimedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := json.Unmarshal([]byte(body), &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of job %s: %w", job.ID, err)
	}

	job.Status = StatusInProgress
	job.ClaimedAt = &claimedAt

	q.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("record_id", job.RecordID),
	)

	return &job, nil
}

// Complete transitions a claimed job to done. A job that was never
// claimed is rejected so statuses stay monotonic; calling it again on a
// done job is a no-op; an unknown job id yields ErrNotFound.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	update := q.db.Rebind(`UPDATE jobs SET status = ? WHERE job_id = ? AND status != ?`)
	res, err := q.db.ExecContext(ctx, update, StatusDone, jobID, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var status string
		query := q.db.Rebind(`SELECT status FROM jobs WHERE job_id = ?`)
		if err := q.db.GetContext(ctx, &status, query, jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, jobID)
			}
			return fmt.Errorf("failed to look up job: %w", err)
		}
		return fmt.Errorf("job %s was never claimed", jobID)
	}

	q.logger.Info("Job completed", slog.String("job_id", jobID))
	return nil
}

// Status returns the current status and payload of a job
func (q *Queue) Status(ctx context.Context, jobID string) (string, TaskPayload, error) {
	var (
		status string
		body   string
	)
	query := q.db.Rebind(`SELECT status, payload FROM jobs WHERE job_id = ?`)
	err := q.db.QueryRowxContext(ctx, query, jobID).Scan(&status, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", TaskPayload{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return "", TaskPayload{}, fmt.Errorf("failed to get job status: %w", err)
	}

	var payload TaskPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", TaskPayload{}, fmt.Errorf("failed to decode payload of job %s: %w", jobID, err)
	}

	return status, payload, nil
}
