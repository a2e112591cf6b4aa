package meta

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendataops/ingestd/internal/dataset"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(db, logger)
	require.NoError(t, err)
	return s
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestUpsertRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := Record{
		ID:               "dataset-a",
		Title:            "Population by district",
		Publisher:        "City statistics office",
		Notes:            "Annual population figures",
		LicenseID:        "CC-BY-4.0",
		LicenseTitle:     "Creative Commons Attribution 4.0",
		LicenseURL:       "https://creativecommons.org/licenses/by/4.0/",
		Maintainer:       "stats@example.org",
		MetadataCreated:  "2024-01-01T00:00:00",
		MetadataModified: "2024-06-01T00:00:00",
		Tags:             []string{"population", "districts"},
		APIData:          json.RawMessage(`{"id":"dataset-a","extras":{"source":"portal"}}`),
		DBSize:           int64Ptr(4096),
		CompressedSize:   int64Ptr(1024),
	}
	require.NoError(t, s.UpsertRecord(ctx, "dataset-a", rec))

	got, err := s.GetRecord(ctx, "dataset-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.JSONEq(t, string(rec.APIData), string(got.APIData))
	require.NotNil(t, got.DBSize)
	assert.Equal(t, int64(4096), *got.DBSize)
	require.NotNil(t, got.CompressedSize)
	assert.Equal(t, int64(1024), *got.CompressedSize)

	// A second upsert replaces, it does not duplicate.
	rec.Title = "Population by district (revised)"
	require.NoError(t, s.UpsertRecord(ctx, "dataset-a", rec))

	records, err := s.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Population by district (revised)", records[0].Title)
}

func TestUpsertRecordIDMismatch(t *testing.T) {
	s := newTestStore(t)

	err := s.UpsertRecord(context.Background(), "dataset-a", Record{ID: "dataset-b"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetRecordAbsent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetRecord(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertResourceAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fetched := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	second := Resource{
		ID: "res-2", RecordID: "dataset-a", Format: "CSV",
		Name: "districts 2024", URL: "https://example.org/d2024.csv",
		Position: 1, Encoding: "utf-8", LastFetched: fetched,
	}
	first := Resource{
		ID: "res-1", RecordID: "dataset-a", Format: "XLSX",
		Name: "districts 2023", URL: "https://example.org/d2023.xlsx",
		Position: 0, Encoding: "XLSX", LastFetched: fetched,
	}
	require.NoError(t, s.UpsertResource(ctx, "res-2", second))
	require.NoError(t, s.UpsertResource(ctx, "res-1", first))

	err := s.UpsertResource(ctx, "res-9", Resource{ID: "res-1"})
	assert.ErrorIs(t, err, ErrValidation)

	resources, err := s.ResourcesForRecord(ctx, "dataset-a")
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "res-1", resources[0].ID, "resources sort by position")
	assert.Equal(t, "res-2", resources[1].ID)

	got, err := s.GetResource(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "XLSX", got.Format)

	absent, err := s.GetResource(ctx, "res-404")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestTotalStorage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty store sums to zero.
	raw, compressed, err := s.TotalStorage(ctx)
	require.NoError(t, err)
	assert.Zero(t, raw)
	assert.Zero(t, compressed)

	require.NoError(t, s.UpsertRecord(ctx, "a", Record{ID: "a", DBSize: int64Ptr(100), CompressedSize: int64Ptr(40)}))
	require.NoError(t, s.UpsertRecord(ctx, "b", Record{ID: "b", DBSize: int64Ptr(200), CompressedSize: int64Ptr(60)}))
	// Records without sizes do not contribute.
	require.NoError(t, s.UpsertRecord(ctx, "c", Record{ID: "c"}))

	raw, compressed, err = s.TotalStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), raw)
	assert.Equal(t, int64(100), compressed)
}

func TestDeleteRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, "a", Record{ID: "a"}))
	require.NoError(t, s.UpsertResource(ctx, "res-1", Resource{ID: "res-1", RecordID: "a"}))

	require.NoError(t, s.DeleteRecord(ctx, "a", "", false))
	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec)

	resources, err := s.ResourcesForRecord(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, resources, 1, "resources persist without purge")

	require.NoError(t, s.DeleteRecord(ctx, "a", "", true))
	resources, err = s.ResourcesForRecord(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestDeleteRecordRemovesDatasetFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ds, err := dataset.Create(dir, "a", logger)
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	require.NoError(t, s.UpsertRecord(ctx, "a", Record{ID: "a"}))

	require.NoError(t, s.DeleteRecord(ctx, "a", dir, true))

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, err = os.Stat(dataset.Path(dir, "a"))
	assert.True(t, os.IsNotExist(err), "dataset file should be gone")

	// Unsafe ids never reach the filesystem.
	err = s.DeleteRecord(ctx, "../escape", dir, false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIncrementQueryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, "a", Record{ID: "a"}))
	require.NoError(t, s.IncrementQueryCount(ctx, "a"))
	require.NoError(t, s.IncrementQueryCount(ctx, "a"))

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(2), rec.QueryCount)

	err = s.IncrementQueryCount(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
