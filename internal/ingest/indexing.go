package ingest

import (
	"context"
	"log/slog"

	"github.com/opendataops/ingestd/internal/config"
	"github.com/opendataops/ingestd/internal/dataset"
)

// LowCardinalityThreshold is the distinct-value ceiling below which a
// column gets an index, provided the table has materially more rows.
// Effectively-unique columns are skipped: an index there buys little
// over a full scan for the typical categorical filter.
const LowCardinalityThreshold = 50

// ApplyIndexes runs the selective indexing pass over every table in the
// dataset database, then applies any tweak-supplied extra index and
// full-text column-sets. Extras are keyed by table name.
func ApplyIndexes(ctx context.Context, db *dataset.DB, extras map[string]config.ResourceTweaks, logger *slog.Logger) error {
	tables, err := db.Tables(ctx)
	if err != nil {
		return err
	}

	for _, table := range tables {
		columns, err := db.Columns(ctx, table)
		if err != nil {
			return err
		}

		for _, column := range columns {
			stats, err := db.AnalyzeColumn(ctx, table, column)
			if err != nil {
				return err
			}
			if stats.NumDistinct < LowCardinalityThreshold && stats.TotalRows > LowCardinalityThreshold {
				if err := db.CreateIndex(ctx, table, []string{column}); err != nil {
					return err
				}
				logger.Debug("Low-cardinality index created",
					slog.String("table", table),
					slog.String("column", column),
					slog.Int64("distinct", stats.NumDistinct),
					slog.Int64("rows", stats.TotalRows),
				)
			}
		}

		tweaks, ok := extras[table]
		if !ok {
			continue
		}
		for _, indexCols := range tweaks.Indexes {
			if err := db.CreateIndex(ctx, table, indexCols); err != nil {
				return err
			}
		}
		if len(tweaks.FullText) > 0 {
			if err := db.EnableFullText(ctx, table, tweaks.FullText); err != nil {
				return err
			}
		}
	}

	return nil
}
