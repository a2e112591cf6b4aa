package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/opendataops/ingestd/internal/dataset"
)

// FeedImporter imports structured API feeds: a JSON array of flat
// objects, or an object wrapping such an array under "rows". Rows map
// directly onto columns; encoding and dialect detection do not apply.
type FeedImporter struct {
	logger *slog.Logger
}

func (imp *FeedImporter) Format() string { return "JSON" }

// feedEnvelope is the wrapped feed shape: {"rows": [...]}
type feedEnvelope struct {
	Rows []map[string]any `json:"rows"`
}

func (imp *FeedImporter) Import(ctx context.Context, db *dataset.DB, req Request) (*Result, error) {
	objects, err := decodeFeed(req.Data)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, ErrEmptyResource
	}

	// Stable column order: union of keys, sorted
	keySet := make(map[string]struct{})
	for _, obj := range objects {
		for key := range obj {
			keySet[key] = struct{}{}
		}
	}
	header := make([]string, 0, len(keySet))
	for key := range keySet {
		header = append(header, key)
	}
	sort.Strings(header)
	header = uniqueHeader(header)

	rows := make([][]string, 0, len(objects))
	for _, obj := range objects {
		row := make([]string, len(header))
		for i, key := range header {
			row[i] = stringifyFeedValue(obj[key])
		}
		rows = append(rows, row)
	}

	columns := InferColumns(header, rows)
	values, err := ConvertRows(columns, rows)
	if err != nil {
		return nil, err
	}

	if err := db.CreateTable(ctx, req.TableName, columns); err != nil {
		return nil, err
	}
	if err := db.InsertRows(ctx, req.TableName, columns, values); err != nil {
		return nil, err
	}

	imp.logger.Info("Feed resource imported",
		slog.String("table", req.TableName),
		slog.Int("rows", len(values)),
	)

	return &Result{
		Encoding: "utf-8",
		Tables:   []string{req.TableName},
		Rows:     len(values),
	}, nil
}

func decodeFeed(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyResource
	}

	dec := func(v any) error {
		d := json.NewDecoder(bytes.NewReader(trimmed))
		d.UseNumber()
		return d.Decode(v)
	}

	if trimmed[0] == '[' {
		var objects []map[string]any
		if err := dec(&objects); err != nil {
			return nil, fmt.Errorf("failed to decode feed array: %w", err)
		}
		return objects, nil
	}

	var envelope feedEnvelope
	if err := dec(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode feed envelope: %w", err)
	}
	return envelope.Rows, nil
}

// stringifyFeedValue flattens a JSON value into the string pipeline the
// type tracker works on. Nested structures are kept as JSON text.
func stringifyFeedValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case bool:
		if value {
			return "1"
		}
		return "0"
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	}
}
