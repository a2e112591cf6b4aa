package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/opendataops/ingestd/internal/dataset"
)

// ExcelImporter imports spreadsheet resources, one table per sheet.
// Spreadsheets carry their own encoding, so detection is bypassed.
type ExcelImporter struct {
	logger *slog.Logger
}

func (imp *ExcelImporter) Format() string { return "XLSX" }

func (imp *ExcelImporter) Import(ctx context.Context, db *dataset.DB, req Request) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	result := &Result{Encoding: "XLSX"}

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			imp.logger.Warn("Skipping empty sheet",
				slog.String("table", req.TableName),
				slog.String("sheet", sheet),
			)
			continue
		}

		header := uniqueHeader(rows[0])
		body := rows[1:]
		for i, row := range body {
			body[i] = NormalizeDecimalCommas(row)
		}

		columns := InferColumns(header, body)
		values, err := ConvertRows(columns, body)
		if err != nil {
			return nil, err
		}

		tableName := req.TableName + "_" + sheet
		if err := db.CreateTable(ctx, tableName, columns); err != nil {
			return nil, err
		}
		if err := db.InsertRows(ctx, tableName, columns, values); err != nil {
			return nil, err
		}

		result.Tables = append(result.Tables, tableName)
		result.Rows += len(values)

		imp.logger.Info("Sheet imported",
			slog.String("table", tableName),
			slog.Int("rows", len(values)),
		)
	}

	if len(result.Tables) == 0 {
		return nil, ErrEmptyResource
	}
	return result, nil
}
