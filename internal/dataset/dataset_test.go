package dataset

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Create(t.TempDir(), "dataset-a", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateRejectsUnsafeIDs(t *testing.T) {
	dir := t.TempDir()

	for _, id := range []string{"../escape", "a/b", `a\b`, "name.db"} {
		_, err := Create(dir, id, testLogger())
		assert.Error(t, err, "id %q must be rejected", id)
	}
}

func TestCreateReplacesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Create(dir, "dataset-a", testLogger())
	require.NoError(t, err)
	cols := []Column{{Name: "v", Type: TypeInteger}}
	require.NoError(t, db.CreateTable(ctx, "old", cols))
	require.NoError(t, db.Close())

	// A re-import starts from an empty file.
	db, err = Create(dir, "dataset-a", testLogger())
	require.NoError(t, err)
	defer db.Close()

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestCreateTableAndInsertRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	columns := []Column{
		{Name: "district", Type: TypeText},
		{Name: "population", Type: TypeInteger},
		{Name: "area_km2", Type: TypeFloat},
	}
	require.NoError(t, db.CreateTable(ctx, "districts", columns))
	require.NoError(t, db.InsertRows(ctx, "districts", columns, [][]any{
		{"Innere Stadt", int64(16000), 2.87},
		{"Leopoldstadt", int64(105000), 19.24},
		{"Unbekannt", nil, nil},
	}))

	got, err := db.Columns(ctx, "districts")
	require.NoError(t, err)
	assert.Equal(t, []string{"district", "population", "area_km2"}, got)

	stats, err := db.AnalyzeColumn(ctx, "districts", "population")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRows)
	assert.Equal(t, int64(2), stats.NumDistinct, "NULL does not count as a distinct value")
}

func TestInsertRowsLengthMismatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	columns := []Column{{Name: "a", Type: TypeText}, {Name: "b", Type: TypeText}}
	require.NoError(t, db.CreateTable(ctx, "t", columns))

	err := db.InsertRows(ctx, "t", columns, [][]any{{"only one"}})
	assert.Error(t, err)
}

func TestCreateIndexAndHasIndexOn(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	columns := []Column{{Name: "kind", Type: TypeText}, {Name: "value", Type: TypeInteger}}
	require.NoError(t, db.CreateTable(ctx, "t", columns))
	require.NoError(t, db.CreateIndex(ctx, "t", []string{"kind"}))

	has, err := db.HasIndexOn(ctx, "t", []string{"kind"})
	require.NoError(t, err)
	assert.True(t, has)

	has, err = db.HasIndexOn(ctx, "t", []string{"value"})
	require.NoError(t, err)
	assert.False(t, has)

	// Creating the same index again is a no-op.
	require.NoError(t, db.CreateIndex(ctx, "t", []string{"kind"}))
}

func TestEnableFullText(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	columns := []Column{{Name: "title", Type: TypeText}, {Name: "notes", Type: TypeText}}
	require.NoError(t, db.CreateTable(ctx, "docs", columns))
	require.NoError(t, db.InsertRows(ctx, "docs", columns, [][]any{
		{"Budget report", "annual city budget"},
		{"Traffic counts", "vehicles per crossing"},
	}))

	require.NoError(t, db.EnableFullText(ctx, "docs", []string{"title", "notes"}))

	var matches int
	err := db.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM docs_fts WHERE docs_fts MATCH 'budget'`).Scan(&matches)
	require.NoError(t, err)
	assert.Equal(t, 1, matches)
}

func TestFinalizeReportsSize(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Create(dir, "dataset-a", testLogger())
	require.NoError(t, err)
	defer db.Close()

	columns := []Column{{Name: "v", Type: TypeInteger}}
	require.NoError(t, db.CreateTable(ctx, "t", columns))
	rows := make([][]any, 0, 500)
	for i := 0; i < 500; i++ {
		rows = append(rows, []any{int64(i)})
	}
	require.NoError(t, db.InsertRows(ctx, "t", columns, rows))

	size, err := db.Finalize(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
	require.NoError(t, db.Close())

	info, err := os.Stat(db.Path())
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size, "logical size matches the compacted file")

	// WAL sidecars are gone after finalize.
	_, err = os.Stat(db.Path() + "-wal")
	assert.True(t, os.IsNotExist(err))
}

func TestCompressedSize(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Create(dir, "dataset-a", testLogger())
	require.NoError(t, err)
	defer db.Close()

	columns := []Column{{Name: "v", Type: TypeText}}
	require.NoError(t, db.CreateTable(ctx, "t", columns))
	rows := make([][]any, 0, 200)
	for i := 0; i < 200; i++ {
		rows = append(rows, []any{"repetitive filler value"})
	}
	require.NoError(t, db.InsertRows(ctx, "t", columns, rows))

	size, err := db.Finalize(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	compressed, err := CompressedSize(db.Path())
	require.NoError(t, err)
	assert.Greater(t, compressed, int64(0))
	assert.Less(t, compressed, size, "repetitive data compresses below the raw size")
}
