package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/opendataops/ingestd/internal/dataset"
	"github.com/opendataops/ingestd/internal/detect"
)

// sniffWindow is how much decoded text the dialect sniffer sees
const sniffWindow = 4048

// CSVImporter imports delimited text resources. Encoding and dialect
// are inferred from the payload unless the resource's tweaks pin them.
type CSVImporter struct {
	logger *slog.Logger
}

func (imp *CSVImporter) Format() string { return "CSV" }

func (imp *CSVImporter) Import(ctx context.Context, db *dataset.DB, req Request) (*Result, error) {
	encoding := detectOrOverrideEncoding(req)
	text := detect.Decode(req.Data, encoding)

	dialect := imp.resolveDialect(text, req)
	hasHeader := imp.resolveHeader(text, dialect, req)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = dialect.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var raw [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse delimited text: %w", err)
		}
		raw = append(raw, row)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyResource
	}

	var header []string
	var body [][]string
	if hasHeader {
		header = raw[0]
		body = raw[1:]
	} else {
		header = make([]string, len(raw[0]))
		body = raw
	}
	header = uniqueHeader(header)

	for i, row := range body {
		body[i] = NormalizeDecimalCommas(row)
	}

	columns := InferColumns(header, body)
	values, err := ConvertRows(columns, body)
	if err != nil {
		return nil, err
	}

	if err := db.CreateTable(ctx, req.TableName, columns); err != nil {
		return nil, err
	}
	if err := db.InsertRows(ctx, req.TableName, columns, values); err != nil {
		return nil, err
	}

	imp.logger.Info("Delimited resource imported",
		slog.String("table", req.TableName),
		slog.String("encoding", encoding),
		slog.String("delimiter", string(dialect.Delimiter)),
		slog.Bool("has_header", hasHeader),
		slog.Int("rows", len(values)),
	)

	return &Result{
		Encoding: encoding,
		Tables:   []string{req.TableName},
		Rows:     len(values),
	}, nil
}

func detectOrOverrideEncoding(req Request) string {
	if req.Tweaks.Encoding != nil {
		return *req.Tweaks.Encoding
	}
	return detect.Encoding(req.Data, req.DefaultEncoding)
}

func (imp *CSVImporter) resolveDialect(text string, req Request) detect.Dialect {
	if req.Tweaks.Delimiter != nil {
		dialect := detect.Dialect{Delimiter: firstRune(*req.Tweaks.Delimiter, ','), Quote: '"'}
		if req.Tweaks.Quote != nil {
			dialect.Quote = firstRune(*req.Tweaks.Quote, '"')
		}
		return dialect
	}

	sample := text
	if len(sample) > sniffWindow {
		sample = sample[:sniffWindow]
	}
	dialect, err := detect.SniffDialect(sample)
	if err != nil {
		imp.logger.Warn("Dialect sniffing inconclusive, assuming comma",
			slog.String("table", req.TableName),
		)
		return detect.DefaultDialect
	}
	return dialect
}

func (imp *CSVImporter) resolveHeader(text string, dialect detect.Dialect, req Request) bool {
	if req.Tweaks.HasHeader != nil {
		return *req.Tweaks.HasHeader
	}
	sample := text
	if len(sample) > sniffWindow {
		sample = sample[:sniffWindow]
	}
	return detect.HasHeader(sample, dialect)
}

func firstRune(s string, fallback rune) rune {
	for _, r := range s {
		return r
	}
	return fallback
}
