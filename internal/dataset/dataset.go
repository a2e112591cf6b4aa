// Package dataset manages the per-dataset storage unit: one SQLite
// database file per ingested dataset, with one table per imported
// resource (or sheet).
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ColumnType is the inferred scalar type of a column
type ColumnType int

const (
	TypeInteger ColumnType = iota
	TypeFloat
	TypeText
	TypeDate
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// Column pairs a column name with its inferred type
type Column struct {
	Name string
	Type ColumnType
}

// DB is an open per-dataset database
type DB struct {
	db     *sqlx.DB
	path   string
	logger *slog.Logger
}

// Path returns the location of a dataset's database file
func Path(dir, id string) string {
	return filepath.Join(dir, id+".db")
}

// Create opens a fresh database for the dataset, removing any previous
// file for the same id. WAL stays enabled for the duration of the import.
func Create(dir, id string, logger *slog.Logger) (*DB, error) {
	if strings.Contains(id, ".") || strings.ContainsAny(id, "/\\") {
		return nil, fmt.Errorf("invalid dataset id: %q", id)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dataset dir: %w", err)
	}

	path := Path(dir, id)
	if err := Remove(dir, id); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`PRAGMA temp_store = MEMORY;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	logger.Info("Dataset database created", slog.String("path", path))

	return &DB{db: db, path: path, logger: logger}, nil
}

// Remove deletes a dataset's database file and its WAL sidecars
func Remove(dir, id string) error {
	path := Path(dir, id)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// Path returns the database file location
func (d *DB) Path() string {
	return d.path
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// quoteIdent quotes an arbitrary resource-derived name for use as a
// SQL identifier
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTable creates a table with the given typed columns
func (d *DB) CreateTable(ctx context.Context, name string, columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %q needs at least one column", name)
	}

	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		defs = append(defs, quoteIdent(col.Name)+" "+col.Type.String())
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %q: %w", name, err)
	}
	return nil
}

// InsertRows bulk-inserts rows into a table in a single transaction.
// Row values must align with columns; nil means SQL NULL.
func (d *DB) InsertRows(ctx context.Context, table string, columns []Column, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, quoteIdent(col.Name))
		placeholders = append(placeholders, "?")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PreparexContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer prepared.Close()

	for _, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row has %d values, table %q has %d columns", len(row), table, len(columns))
		}
		if _, err := prepared.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row into %q: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert: %w", err)
	}

	d.logger.Info("Rows inserted",
		slog.String("table", table),
		slog.Int("rows", len(rows)),
	)
	return nil
}

// Tables lists the ordinary tables in the dataset database
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	var tables []string
	err := d.db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// Columns lists the column names of a table
func (d *DB) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := d.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read table info for %q: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// ColumnStats holds distinct-value and row counts for one column
type ColumnStats struct {
	NumDistinct int64
	TotalRows   int64
}

// AnalyzeColumn counts distinct values and total rows for a column
func (d *DB) AnalyzeColumn(ctx context.Context, table, column string) (ColumnStats, error) {
	var stats ColumnStats
	stmt := fmt.Sprintf("SELECT COUNT(DISTINCT %s), COUNT(*) FROM %s",
		quoteIdent(column), quoteIdent(table))
	if err := d.db.QueryRowxContext(ctx, stmt).Scan(&stats.NumDistinct, &stats.TotalRows); err != nil {
		return ColumnStats{}, fmt.Errorf("failed to analyze column %q.%q: %w", table, column, err)
	}
	return stats, nil
}

// CreateIndex creates an index over the given columns
func (d *DB) CreateIndex(ctx context.Context, table string, columns []string) error {
	quoted := make([]string, 0, len(columns))
	for _, col := range columns {
		quoted = append(quoted, quoteIdent(col))
	}

	name := "idx_" + sanitizeName(table) + "_" + sanitizeName(strings.Join(columns, "_"))
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name), quoteIdent(table), strings.Join(quoted, ", "))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index on %q: %w", table, err)
	}

	d.logger.Debug("Index created",
		slog.String("table", table),
		slog.String("columns", strings.Join(columns, ",")),
	)
	return nil
}

// HasIndexOn reports whether any index covers exactly the given columns
func (d *DB) HasIndexOn(ctx context.Context, table string, columns []string) (bool, error) {
	rows, err := d.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
	if err != nil {
		return false, fmt.Errorf("failed to list indexes for %q: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, fmt.Errorf("failed to scan index list: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, name := range names {
		indexed, err := d.indexColumns(ctx, name)
		if err != nil {
			return false, err
		}
		if equalStrings(indexed, columns) {
			return true, nil
		}
	}
	return false, nil
}

func (d *DB) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := d.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteIdent(index)))
	if err != nil {
		return nil, fmt.Errorf("failed to read index info for %q: %w", index, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			seqno, cid int
			name       *string
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("failed to scan index info: %w", err)
		}
		if name != nil {
			columns = append(columns, *name)
		}
	}
	return columns, rows.Err()
}

// EnableFullText creates an FTS5 index table over the given columns,
// populated from the source table
func (d *DB) EnableFullText(ctx context.Context, table string, columns []string) error {
	quoted := make([]string, 0, len(columns))
	for _, col := range columns {
		quoted = append(quoted, quoteIdent(col))
	}

	ftsName := sanitizeName(table) + "_fts"
	create := fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5(%s, content=%s)",
		quoteIdent(ftsName), strings.Join(quoted, ", "), quoteIdent(table))
	if _, err := d.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create full-text index on %q: %w", table, err)
	}

	populate := fmt.Sprintf("INSERT INTO %s (rowid, %s) SELECT rowid, %s FROM %s",
		quoteIdent(ftsName), strings.Join(quoted, ", "), strings.Join(quoted, ", "), quoteIdent(table))
	if _, err := d.db.ExecContext(ctx, populate); err != nil {
		return fmt.Errorf("failed to populate full-text index on %q: %w", table, err)
	}

	return nil
}

// Finalize runs ANALYZE, turns WAL off, compacts the file, and returns
// its logical on-disk size (page_size * page_count).
func (d *DB) Finalize(ctx context.Context) (int64, error) {
	if _, err := d.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return 0, fmt.Errorf("failed to analyze dataset database: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode = DELETE;"); err != nil {
		return 0, fmt.Errorf("failed to disable WAL: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		return 0, fmt.Errorf("failed to vacuum dataset database: %w", err)
	}

	var size int64
	err := d.db.QueryRowxContext(ctx,
		"SELECT page_size * page_count FROM pragma_page_count(), pragma_page_size()").Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("failed to compute database size: %w", err)
	}
	return size, nil
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
