package meta

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendataops/ingestd/internal/queue"
)

func TestJobsForRecord(t *testing.T) {
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(db, logger)
	require.NoError(t, err)
	q, err := queue.New(db, logger, queue.Config{})
	require.NoError(t, err)

	ctx := context.Background()

	first, err := q.Enqueue(ctx, queue.TaskPayload{Kind: "fetch"}, "dataset-a")
	require.NoError(t, err)
	claimed, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, q.Complete(ctx, first))

	time.Sleep(2 * time.Millisecond)
	second, err := q.Enqueue(ctx, queue.TaskPayload{Kind: "fetch"}, "dataset-a")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.TaskPayload{Kind: "fetch"}, "dataset-b")
	require.NoError(t, err)

	jobs, err := s.JobsForRecord(ctx, "dataset-a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, second, jobs[0].ID, "most recent job first")
	assert.Equal(t, queue.StatusPending, jobs[0].Status)
	assert.Nil(t, jobs[0].ClaimedAt)

	assert.Equal(t, first, jobs[1].ID)
	assert.Equal(t, queue.StatusDone, jobs[1].Status)
	assert.NotNil(t, jobs[1].ClaimedAt)
	assert.Equal(t, "fetch", jobs[1].Payload.Kind)
}
