// Package ingest turns raw resource bytes into typed tables in a
// per-dataset database. Each recognized format has its own Importer;
// the pipeline dispatches on the normalized format tag and never
// branches on format strings anywhere else.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/opendataops/ingestd/internal/config"
	"github.com/opendataops/ingestd/internal/dataset"
)

var (
	// ErrUnsupportedFormat is returned for formats outside the
	// recognized set; the affected resource is skipped, not fatal
	ErrUnsupportedFormat = errors.New("unsupported resource format")

	// ErrEmptyResource is returned when a resource decodes to no rows
	ErrEmptyResource = errors.New("resource contains no rows")
)

// Request carries one resource's raw bytes and its import settings
type Request struct {
	TableName       string
	Data            []byte
	Tweaks          config.ResourceTweaks
	DefaultEncoding string
}

// Result reports what an import produced
type Result struct {
	// Encoding is the resolved character encoding for delimited text,
	// or the format tag for formats that carry their own encoding
	Encoding string
	Tables   []string
	Rows     int
}

// Importer imports one resource format into the dataset database
type Importer interface {
	Format() string
	Import(ctx context.Context, db *dataset.DB, req Request) (*Result, error)
}

// formatAliases maps upstream format spellings to canonical tags
var formatAliases = map[string]string{
	"csv":       "CSV",
	".csv":      "CSV",
	"csv-datei": "CSV",
	"xlsx":      "XLSX",
	".xlsx":     "XLSX",
	"xls":       "XLS",
	".xls":      "XLS",
	"json":      "JSON",
	".json":     "JSON",
}

// NormalizeFormat maps the many upstream spellings of a format to its
// canonical tag. Unrecognized formats pass through unchanged so skip
// messages can name them.
func NormalizeFormat(format string) string {
	if canonical, ok := formatAliases[strings.ToLower(strings.TrimSpace(format))]; ok {
		return canonical
	}
	return strings.ToUpper(strings.TrimSpace(format))
}

// Registry holds the importer for each recognized format tag
type Registry struct {
	importers map[string]Importer
}

// NewRegistry wires up the default importers
func NewRegistry(logger *slog.Logger) *Registry {
	csv := &CSVImporter{logger: logger}
	excel := &ExcelImporter{logger: logger}
	feed := &FeedImporter{logger: logger}

	return &Registry{
		importers: map[string]Importer{
			"CSV":  csv,
			"XLSX": excel,
			"XLS":  excel,
			"JSON": feed,
		},
	}
}

// For returns the importer for a format (after normalization)
func (r *Registry) For(format string) (Importer, bool) {
	imp, ok := r.importers[NormalizeFormat(format)]
	return imp, ok
}
