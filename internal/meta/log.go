package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Append inserts one progress log row with the current timestamp.
// Rows are never mutated or deleted.
func (s *Store) Append(ctx context.Context, recordID, jobID, message string) error {
	query := s.db.Rebind(`INSERT INTO logging (record_id, job_id, status, timestamp) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, recordID, jobID, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// Latest returns the most recent status message for a job
func (s *Store) Latest(ctx context.Context, jobID string) (string, error) {
	var status string
	query := s.db.Rebind(`SELECT status FROM logging WHERE job_id = ? ORDER BY timestamp DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &status, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: no log entries for job %s", ErrNotFound, jobID)
		}
		return "", fmt.Errorf("failed to get latest log entry: %w", err)
	}
	return status, nil
}

// LatestForRecord returns the most recent status message for a record
func (s *Store) LatestForRecord(ctx context.Context, recordID string) (string, error) {
	var status string
	query := s.db.Rebind(`SELECT status FROM logging WHERE record_id = ? ORDER BY timestamp DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &status, query, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: no log entries for record %s", ErrNotFound, recordID)
		}
		return "", fmt.Errorf("failed to get latest log entry: %w", err)
	}
	return status, nil
}

// History returns the full log for a job, newest first
func (s *Store) History(ctx context.Context, jobID string) ([]LogEntry, error) {
	var entries []LogEntry
	query := s.db.Rebind(`SELECT record_id, job_id, status, timestamp FROM logging WHERE job_id = ? ORDER BY timestamp DESC`)
	if err := s.db.SelectContext(ctx, &entries, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to read log history: %w", err)
	}
	return entries, nil
}

// RecordLogger binds the progress log to one (record, job) pair so the
// pipeline can report status without threading ids everywhere.
type RecordLogger struct {
	store    *Store
	recordID string
	jobID    string
}

// NewRecordLogger creates a logger for one in-flight job
func (s *Store) NewRecordLogger(recordID, jobID string) *RecordLogger {
	return &RecordLogger{
		store:    s,
		recordID: recordID,
		jobID:    jobID,
	}
}

// SetStatus appends one status message. Failures are returned but the
// pipeline treats them as non-fatal.
func (l *RecordLogger) SetStatus(ctx context.Context, message string) error {
	return l.store.Append(ctx, l.recordID, l.jobID, message)
}
