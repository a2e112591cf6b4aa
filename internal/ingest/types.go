package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opendataops/ingestd/internal/dataset"
)

// dateLayouts are the accepted date spellings, tried in order
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02.01.2006",
}

// NormalizeDecimalCommas replaces decimal commas with decimal points in
// every field of a row. Applied to the whole body so numeric columns
// written in comma-decimal locales infer correctly.
func NormalizeDecimalCommas(row []string) []string {
	cleaned := make([]string, len(row))
	for i, field := range row {
		cleaned[i] = strings.ReplaceAll(field, ",", ".")
	}
	return cleaned
}

// columnTracker widens a single column's candidate type as values are
// observed. Empty fields are nulls and never narrow the type.
type columnTracker struct {
	sawValue   bool
	couldInt   bool
	couldFloat bool
	couldDate  bool
}

func newColumnTracker() *columnTracker {
	return &columnTracker{couldInt: true, couldFloat: true, couldDate: true}
}

func (t *columnTracker) observe(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	t.sawValue = true

	if t.couldInt {
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			t.couldInt = false
		}
	}
	if t.couldFloat {
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			t.couldFloat = false
		}
	}
	if t.couldDate {
		if !parsesAsDate(value) {
			t.couldDate = false
		}
	}
}

func (t *columnTracker) columnType() dataset.ColumnType {
	switch {
	case !t.sawValue:
		return dataset.TypeText
	case t.couldInt:
		return dataset.TypeInteger
	case t.couldFloat:
		return dataset.TypeFloat
	case t.couldDate:
		return dataset.TypeDate
	default:
		return dataset.TypeText
	}
}

func parsesAsDate(value string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// InferColumns scans every body row (not a sample) and returns the
// typed columns for the table, widening each column's type whenever a
// value does not fit the narrower candidate.
func InferColumns(header []string, rows [][]string) []dataset.Column {
	trackers := make([]*columnTracker, len(header))
	for i := range trackers {
		trackers[i] = newColumnTracker()
	}

	for _, row := range rows {
		for i := range header {
			if i < len(row) {
				trackers[i].observe(row[i])
			}
		}
	}

	columns := make([]dataset.Column, len(header))
	for i, name := range header {
		columns[i] = dataset.Column{Name: name, Type: trackers[i].columnType()}
	}
	return columns
}

// ConvertRows converts string rows into typed values matching the
// inferred columns. Empty fields become NULL; short rows are padded.
func ConvertRows(columns []dataset.Column, rows [][]string) ([][]any, error) {
	converted := make([][]any, 0, len(rows))
	for _, row := range rows {
		values := make([]any, len(columns))
		for i, col := range columns {
			var field string
			if i < len(row) {
				field = strings.TrimSpace(row[i])
			}
			if field == "" {
				values[i] = nil
				continue
			}

			switch col.Type {
			case dataset.TypeInteger:
				n, err := strconv.ParseInt(field, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("value %q does not fit inferred integer column %q", field, col.Name)
				}
				values[i] = n
			case dataset.TypeFloat:
				f, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fmt.Errorf("value %q does not fit inferred float column %q", field, col.Name)
				}
				values[i] = f
			default:
				values[i] = field
			}
		}
		converted = append(converted, values)
	}
	return converted, nil
}

// uniqueHeader deduplicates and fills in unnamed header cells so every
// column has a usable name
func uniqueHeader(header []string) []string {
	seen := make(map[string]bool, len(header))
	result := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if seen[name] {
			suffix := 2
			for seen[fmt.Sprintf("%s_%d", name, suffix)] {
				suffix++
			}
			name = fmt.Sprintf("%s_%d", name, suffix)
		}
		seen[name] = true
		result[i] = name
	}
	return result
}
