package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendataops/ingestd/internal/config"
	"github.com/opendataops/ingestd/internal/dataset"
)

func TestApplyIndexesHeuristic(t *testing.T) {
	db := newDatasetDB(t)
	ctx := context.Background()

	columns := []dataset.Column{
		{Name: "kind", Type: dataset.TypeText},
		{Name: "id", Type: dataset.TypeInteger},
	}
	require.NoError(t, db.CreateTable(ctx, "t", columns))

	// 200 rows, 4 distinct kinds, ids unique.
	rows := make([][]any, 0, 200)
	for i := 0; i < 200; i++ {
		rows = append(rows, []any{fmt.Sprintf("kind-%d", i%4), int64(i)})
	}
	require.NoError(t, db.InsertRows(ctx, "t", columns, rows))

	require.NoError(t, ApplyIndexes(ctx, db, nil, testLogger()))

	has, err := db.HasIndexOn(ctx, "t", []string{"kind"})
	require.NoError(t, err)
	assert.True(t, has, "low-cardinality column gets an index")

	has, err = db.HasIndexOn(ctx, "t", []string{"id"})
	require.NoError(t, err)
	assert.False(t, has, "near-unique column stays unindexed")
}

func TestApplyIndexesSkipsSmallTables(t *testing.T) {
	db := newDatasetDB(t)
	ctx := context.Background()

	columns := []dataset.Column{{Name: "kind", Type: dataset.TypeText}}
	require.NoError(t, db.CreateTable(ctx, "small", columns))

	rows := make([][]any, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, []any{fmt.Sprintf("kind-%d", i%2)})
	}
	require.NoError(t, db.InsertRows(ctx, "small", columns, rows))

	require.NoError(t, ApplyIndexes(ctx, db, nil, testLogger()))

	has, err := db.HasIndexOn(ctx, "small", []string{"kind"})
	require.NoError(t, err)
	assert.False(t, has, "tables at or below the threshold stay unindexed")
}

func TestApplyIndexesTweakExtras(t *testing.T) {
	db := newDatasetDB(t)
	ctx := context.Background()

	columns := []dataset.Column{
		{Name: "title", Type: dataset.TypeText},
		{Name: "year", Type: dataset.TypeInteger},
	}
	require.NoError(t, db.CreateTable(ctx, "docs", columns))
	require.NoError(t, db.InsertRows(ctx, "docs", columns, [][]any{
		{"Budget report", int64(2023)},
		{"Traffic counts", int64(2024)},
	}))

	extras := map[string]config.ResourceTweaks{
		"docs": {
			Indexes:  [][]string{{"title", "year"}},
			FullText: []string{"title"},
		},
	}
	require.NoError(t, ApplyIndexes(ctx, db, extras, testLogger()))

	has, err := db.HasIndexOn(ctx, "docs", []string{"title", "year"})
	require.NoError(t, err)
	assert.True(t, has, "tweak-supplied index sets apply regardless of cardinality")

	raw := reopen(t, db)
	var matches int
	require.NoError(t, raw.Get(&matches, `SELECT COUNT(*) FROM docs_fts WHERE docs_fts MATCH 'traffic'`))
	assert.Equal(t, 1, matches)
}
