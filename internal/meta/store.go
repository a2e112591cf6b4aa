package meta

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/opendataops/ingestd/internal/dataset"
)

// Store handles all metadata database operations: dataset Records,
// per-file Resources, and aggregate storage accounting. The progress
// log lives in the same database (log.go).
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store and ensures its schema exists
func NewStore(db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to init metadata schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL DEFAULT '',
		publisher         TEXT NOT NULL DEFAULT '',
		notes             TEXT NOT NULL DEFAULT '',
		license_id        TEXT NOT NULL DEFAULT '',
		license_title     TEXT NOT NULL DEFAULT '',
		license_url       TEXT NOT NULL DEFAULT '',
		license_citation  TEXT NOT NULL DEFAULT '',
		maintainer        TEXT NOT NULL DEFAULT '',
		metadata_created  TEXT NOT NULL DEFAULT '',
		metadata_modified TEXT NOT NULL DEFAULT '',
		tags              TEXT NOT NULL DEFAULT '[]',
		api_data          TEXT NOT NULL DEFAULT '{}',
		db_size           BIGINT,
		compressed_size   BIGINT,
		query_count       BIGINT NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS resources (
		id           TEXT PRIMARY KEY,
		record_id    TEXT NOT NULL,
		format       TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		mimetype     TEXT NOT NULL DEFAULT '',
		position     INTEGER NOT NULL DEFAULT 0,
		encoding     TEXT NOT NULL DEFAULT '',
		last_fetched TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS resources_record_idx ON resources (record_id);
	CREATE TABLE IF NOT EXISTS logging (
		record_id TEXT NOT NULL,
		job_id    TEXT NOT NULL DEFAULT '',
		status    TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS logging_job_idx ON logging (job_id);
	CREATE INDEX IF NOT EXISTS logging_record_idx ON logging (record_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// recordRow is the persisted shape of a Record: tags and the raw
// upstream blob are stored JSON-encoded.
type recordRow struct {
	ID               string        `db:"id"`
	Title            string        `db:"title"`
	Publisher        string        `db:"publisher"`
	Notes            string        `db:"notes"`
	LicenseID        string        `db:"license_id"`
	LicenseTitle     string        `db:"license_title"`
	LicenseURL       string        `db:"license_url"`
	LicenseCitation  string        `db:"license_citation"`
	Maintainer       string        `db:"maintainer"`
	MetadataCreated  string        `db:"metadata_created"`
	MetadataModified string        `db:"metadata_modified"`
	Tags             string        `db:"tags"`
	APIData          string        `db:"api_data"`
	DBSize           sql.NullInt64 `db:"db_size"`
	CompressedSize   sql.NullInt64 `db:"compressed_size"`
	QueryCount       int64         `db:"query_count"`
}

func (r recordRow) toRecord() (Record, error) {
	rec := Record{
		ID:               r.ID,
		Title:            r.Title,
		Publisher:        r.Publisher,
		Notes:            r.Notes,
		LicenseID:        r.LicenseID,
		LicenseTitle:     r.LicenseTitle,
		LicenseURL:       r.LicenseURL,
		LicenseCitation:  r.LicenseCitation,
		Maintainer:       r.Maintainer,
		MetadataCreated:  r.MetadataCreated,
		MetadataModified: r.MetadataModified,
		QueryCount:       r.QueryCount,
	}

	if err := json.Unmarshal([]byte(r.Tags), &rec.Tags); err != nil {
		return Record{}, fmt.Errorf("failed to decode tags for record %s: %w", r.ID, err)
	}
	rec.APIData = json.RawMessage(r.APIData)

	if r.DBSize.Valid {
		v := r.DBSize.Int64
		rec.DBSize = &v
	}
	if r.CompressedSize.Valid {
		v := r.CompressedSize.Int64
		rec.CompressedSize = &v
	}

	return rec, nil
}

// UpsertRecord inserts or replaces a record keyed by id. The supplied id
// must match the record's own id field.
func (s *Store) UpsertRecord(ctx context.Context, id string, rec Record) error {
	if id != rec.ID {
		return fmt.Errorf("%w: got %q, record has %q", ErrValidation, id, rec.ID)
	}

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	apiData := []byte("{}")
	if len(rec.APIData) > 0 {
		apiData = rec.APIData
	}

	var dbSize, compressedSize any
	if rec.DBSize != nil {
		dbSize = *rec.DBSize
	}
	if rec.CompressedSize != nil {
		compressedSize = *rec.CompressedSize
	}

	query := s.db.Rebind(`
		INSERT INTO records (
			id, title, publisher, notes,
			license_id, license_title, license_url, license_citation,
			maintainer, metadata_created, metadata_modified,
			tags, api_data, db_size, compressed_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			publisher = excluded.publisher,
			notes = excluded.notes,
			license_id = excluded.license_id,
			license_title = excluded.license_title,
			license_url = excluded.license_url,
			license_citation = excluded.license_citation,
			maintainer = excluded.maintainer,
			metadata_created = excluded.metadata_created,
			metadata_modified = excluded.metadata_modified,
			tags = excluded.tags,
			api_data = excluded.api_data,
			db_size = excluded.db_size,
			compressed_size = excluded.compressed_size
	`)

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.Publisher, rec.Notes,
		rec.LicenseID, rec.LicenseTitle, rec.LicenseURL, rec.LicenseCitation,
		rec.Maintainer, rec.MetadataCreated, rec.MetadataModified,
		string(tags), string(apiData), dbSize, compressedSize,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}

	s.logger.Info("Record upserted", slog.String("record_id", rec.ID))
	return nil
}

// UpsertResource inserts or replaces a resource keyed by id. The supplied
// id must match the resource's own id field.
func (s *Store) UpsertResource(ctx context.Context, id string, res Resource) error {
	if id != res.ID {
		return fmt.Errorf("%w: got %q, resource has %q", ErrValidation, id, res.ID)
	}

	query := s.db.Rebind(`
		INSERT INTO resources (
			id, record_id, format, name, url, mimetype, position, encoding, last_fetched
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			record_id = excluded.record_id,
			format = excluded.format,
			name = excluded.name,
			url = excluded.url,
			mimetype = excluded.mimetype,
			position = excluded.position,
			encoding = excluded.encoding,
			last_fetched = excluded.last_fetched
	`)

	_, err := s.db.ExecContext(ctx, query,
		res.ID, res.RecordID, res.Format, res.Name, res.URL,
		res.Mimetype, res.Position, res.Encoding, res.LastFetched,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}

	s.logger.Info("Resource upserted",
		slog.String("resource_id", res.ID),
		slog.String("record_id", res.RecordID),
	)
	return nil
}

// GetRecord returns the record with the given id, or nil when absent
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	var row recordRow
	query := s.db.Rebind(`SELECT * FROM records WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetResource returns the resource with the given id, or nil when absent
func (s *Store) GetResource(ctx context.Context, id string) (*Resource, error) {
	var res Resource
	query := s.db.Rebind(`
		SELECT id, record_id, format, name, url, mimetype, position, encoding, last_fetched
		FROM resources WHERE id = ?
	`)
	err := s.db.QueryRowxContext(ctx, query, id).Scan(
		&res.ID, &res.RecordID, &res.Format, &res.Name, &res.URL,
		&res.Mimetype, &res.Position, &res.Encoding, &res.LastFetched,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &res, nil
}

// ListRecords returns all records, decoding tags and the upstream blob
func (s *Store) ListRecords(ctx context.Context) ([]Record, error) {
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM records ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ResourcesForRecord returns the resources belonging to a record,
// ordered by their upstream position
func (s *Store) ResourcesForRecord(ctx context.Context, recordID string) ([]Resource, error) {
	query := s.db.Rebind(`
		SELECT id, record_id, format, name, url, mimetype, position, encoding, last_fetched
		FROM resources WHERE record_id = ? ORDER BY position
	`)
	rows, err := s.db.QueryxContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(
			&res.ID, &res.RecordID, &res.Format, &res.Name, &res.URL,
			&res.Mimetype, &res.Position, &res.Encoding, &res.LastFetched,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}

// TotalStorage returns the on-disk and compressed byte sums across all
// records; used for the enqueue-time capacity check
func (s *Store) TotalStorage(ctx context.Context) (rawBytes, compressedBytes int64, err error) {
	var totals struct {
		Raw        sql.NullInt64 `db:"raw"`
		Compressed sql.NullInt64 `db:"compressed"`
	}
	query := `SELECT COALESCE(SUM(db_size), 0) AS raw, COALESCE(SUM(compressed_size), 0) AS compressed FROM records`
	if err := s.db.GetContext(ctx, &totals, query); err != nil {
		return 0, 0, fmt.Errorf("failed to sum storage: %w", err)
	}
	return totals.Raw.Int64, totals.Compressed.Int64, nil
}

// DeleteRecord removes a record row and, when datasetDir is non-empty,
// the dataset's database file under it. Resource rows persist unless
// purgeResources is set. A failed file removal rolls back the row
// deletes.
func (s *Store) DeleteRecord(ctx context.Context, id, datasetDir string, purgeResources bool) error {
	if datasetDir != "" && (strings.Contains(id, ".") || strings.ContainsAny(id, "/\\")) {
		return fmt.Errorf("%w: invalid record id %q", ErrValidation, id)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM records WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if purgeResources {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM resources WHERE record_id = ?`), id); err != nil {
			return fmt.Errorf("failed to purge resources: %w", err)
		}
	}

	if datasetDir != "" {
		if err := dataset.Remove(datasetDir, id); err != nil {
			return fmt.Errorf("failed to remove dataset file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	s.logger.Info("Record deleted",
		slog.String("record_id", id),
		slog.Bool("purged_resources", purgeResources),
	)
	return nil
}

// IncrementQueryCount bumps the cumulative access counter for a record.
// Called by the external access-accounting collaborator.
func (s *Store) IncrementQueryCount(ctx context.Context, recordID string) error {
	query := s.db.Rebind(`UPDATE records SET query_count = query_count + 1 WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, recordID)
	if err != nil {
		return fmt.Errorf("failed to increment query count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: record %s", ErrNotFound, recordID)
	}
	return nil
}
