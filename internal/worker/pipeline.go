package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/opendataops/ingestd/internal/config"
	"github.com/opendataops/ingestd/internal/dataset"
	"github.com/opendataops/ingestd/internal/fetch"
	"github.com/opendataops/ingestd/internal/ingest"
	"github.com/opendataops/ingestd/internal/meta"
	"github.com/opendataops/ingestd/internal/queue"
)

// processJob runs the full ingestion pipeline for one claimed job:
// fetch the upstream metadata, import every resource into a fresh
// dataset database, index, finalize sizes and mark the job done.
// Individual resource failures are logged and skipped; only a failure
// before any resource work aborts the job.
func (w *Worker) processJob(ctx context.Context, job *queue.Job) error {
	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("record_id", job.RecordID),
	)
	status := w.meta.NewRecordLogger(job.RecordID, job.ID)

	_ = status.SetStatus(ctx, "fetching metadata")
	dsMeta, err := w.metadata.DatasetMetadata(ctx, job.RecordID)
	if err != nil {
		_ = status.SetStatus(ctx, fmt.Sprintf("metadata fetch failed: %s", err.Error()))
		return fmt.Errorf("failed to fetch metadata for %s: %w", job.RecordID, err)
	}

	ds, err := dataset.Create(w.datasetDir, job.RecordID, w.logger)
	if err != nil {
		_ = status.SetStatus(ctx, fmt.Sprintf("dataset creation failed: %s", err.Error()))
		return fmt.Errorf("failed to create dataset store for %s: %w", job.RecordID, err)
	}
	defer ds.Close()

	extras := make(map[string]config.ResourceTweaks)
	imported := 0
	defaults := w.tweaks.ForResource("*")
	for _, res := range dsMeta.Resources {
		tweaks := config.Merge(defaults, w.tweaks.ForResource(res.Name))
		result, err := w.importResource(ctx, ds, res, tweaks)
		if err != nil {
			reason := skipReason(err)
			w.logger.Warn("Resource skipped",
				slog.String("record_id", job.RecordID),
				slog.String("resource", res.Name),
				slog.String("reason", reason),
			)
			_ = status.SetStatus(ctx, fmt.Sprintf("skipped resource %q: %s", res.Name, reason))
			continue
		}

		for _, table := range result.Tables {
			extras[table] = tweaks
		}
		if err := w.meta.UpsertResource(ctx, res.ID, meta.Resource{
			ID:          res.ID,
			RecordID:    job.RecordID,
			Format:      ingest.NormalizeFormat(res.Format),
			Name:        res.Name,
			URL:         res.URL,
			Mimetype:    res.Mimetype,
			Position:    res.Position,
			Encoding:    result.Encoding,
			LastFetched: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to record resource %s: %w", res.ID, err)
		}
		imported++
	}

	_ = status.SetStatus(ctx, "indexing")
	if err := ingest.ApplyIndexes(ctx, ds, extras, w.logger); err != nil {
		return fmt.Errorf("indexing failed for %s: %w", job.RecordID, err)
	}

	_ = status.SetStatus(ctx, "finalizing")
	dbSize, err := ds.Finalize(ctx)
	if err != nil {
		return fmt.Errorf("failed to finalize dataset %s: %w", job.RecordID, err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("failed to close dataset %s: %w", job.RecordID, err)
	}
	compressed, err := dataset.CompressedSize(ds.Path())
	if err != nil {
		return fmt.Errorf("failed to estimate compressed size for %s: %w", job.RecordID, err)
	}

	rec := recordFromMeta(job.RecordID, dsMeta)
	rec.DBSize = &dbSize
	rec.CompressedSize = &compressed
	if err := w.meta.UpsertRecord(ctx, job.RecordID, rec); err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", job.RecordID, err)
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	_ = status.SetStatus(ctx, "done")

	w.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("record_id", job.RecordID),
		slog.Int("resources_imported", imported),
		slog.Int("resources_total", len(dsMeta.Resources)),
		slog.Int64("db_size", dbSize),
		slog.Int64("compressed_size", compressed),
	)
	return nil
}

// importResource downloads one resource and runs the importer matching
// its format tag.
func (w *Worker) importResource(ctx context.Context, ds *dataset.DB, res fetch.ResourceMeta, tweaks config.ResourceTweaks) (*ingest.Result, error) {
	imp, ok := w.registry.For(res.Format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ingest.ErrUnsupportedFormat, res.Format)
	}

	body, err := w.fetcher.FetchResource(ctx, res.URL)
	if err != nil {
		return nil, err
	}

	return imp.Import(ctx, ds, ingest.Request{
		TableName:       tableName(res),
		Data:            body,
		Tweaks:          tweaks,
		DefaultEncoding: w.defaultEncoding,
	})
}

// skipReason renders the per-resource failure classes into the short
// messages that end up in the progress log.
func skipReason(err error) string {
	var transient *fetch.TransientFetchError
	switch {
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return err.Error()
	case errors.Is(err, fetch.ErrDisallowedSource):
		return err.Error()
	case errors.Is(err, fetch.ErrArchiveDetected):
		return err.Error()
	case errors.As(err, &transient):
		return err.Error()
	case errors.Is(err, ingest.ErrEmptyResource):
		return err.Error()
	default:
		return fmt.Sprintf("import failed: %s", err.Error())
	}
}

// tableName derives a stable table identifier from the resource display
// name, falling back to the resource id when the name is unusable.
func tableName(res fetch.ResourceMeta) string {
	name := strings.ToLower(strings.TrimSpace(res.Name))
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "resource_" + strings.ReplaceAll(res.ID, "-", "_")
	}
	if out != "" && unicode.IsDigit(rune(out[0])) {
		out = "t_" + out
	}
	return out
}

func recordFromMeta(id string, m *fetch.DatasetMeta) meta.Record {
	return meta.Record{
		ID:               id,
		Title:            strVal(m.Title),
		Publisher:        strVal(m.Publisher),
		Notes:            strVal(m.Notes),
		LicenseID:        strVal(m.LicenseID),
		LicenseTitle:     strVal(m.LicenseTitle),
		LicenseURL:       strVal(m.LicenseURL),
		LicenseCitation:  strVal(m.LicenseCitation),
		Maintainer:       strVal(m.Maintainer),
		MetadataCreated:  strVal(m.MetadataCreated),
		MetadataModified: strVal(m.MetadataModified),
		Tags:             m.Tags,
		APIData:          m.Raw,
	}
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
