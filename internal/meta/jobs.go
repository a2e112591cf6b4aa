package meta

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/opendataops/ingestd/internal/queue"
)

// JobsForRecord returns the jobs that targeted a record, most recent
// first. Supports the audit view; the jobs table itself is owned by the
// queue, which shares this database.
func (s *Store) JobsForRecord(ctx context.Context, recordID string) ([]queue.Job, error) {
	query := s.db.Rebind(`
		SELECT job_id, record_id, status, payload, enqueued_at, claimed_at
		FROM jobs
		WHERE record_id = ?
		ORDER BY enqueued_at DESC
	`)

	rows, err := s.db.QueryxContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for record: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		var (
			job       queue.Job
			body      string
			claimedAt sql.NullTime
		)
		if err := rows.Scan(&job.ID, &job.RecordID, &job.Status, &body, &job.EnqueuedAt, &claimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of job %s: %w", job.ID, err)
		}
		if claimedAt.Valid {
			t := claimedAt.Time.UTC()
			job.ClaimedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
