package meta

import (
	"encoding/json"
	"time"
)

// Record is the bookkeeping entity for one ingested dataset. The derived
// size fields stay nil until the ingestion pipeline has completed
// successfully at least once.
type Record struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Publisher        string          `json:"publisher"`
	Notes            string          `json:"notes"`
	LicenseID        string          `json:"license_id"`
	LicenseTitle     string          `json:"license_title"`
	LicenseURL       string          `json:"license_url"`
	LicenseCitation  string          `json:"license_citation"`
	Maintainer       string          `json:"maintainer"`
	MetadataCreated  string          `json:"metadata_created"`
	MetadataModified string          `json:"metadata_modified"`
	Tags             []string        `json:"tags"`
	APIData          json.RawMessage `json:"api_data"`

	DBSize         *int64 `json:"db_size"`
	CompressedSize *int64 `json:"compressed_size"`
	QueryCount     int64  `json:"query_count"`
}

// Resource is one importable file belonging to a Record. A re-fetch of
// the same resource id supersedes the previous row.
type Resource struct {
	ID          string    `json:"id"`
	RecordID    string    `json:"record_id"`
	Format      string    `json:"format"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Mimetype    string    `json:"mimetype"`
	Position    int       `json:"position"`
	Encoding    string    `json:"encoding"`
	LastFetched time.Time `json:"last_fetched"`
}

// LogEntry is one append-only progress message for a record, optionally
// tied to the job that produced it.
type LogEntry struct {
	RecordID  string    `db:"record_id" json:"record_id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Status    string    `db:"status" json:"status"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}
