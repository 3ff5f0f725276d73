// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package export writes executed query results as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/teradata-labs/weft/pkg/fabric"
)

// ContentType is the media type of an XLSX workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	resultSheet = "Result"
	querySheet  = "Query"

	// excel rejects cells longer than this
	maxCellChars = 32767
)

// Options describes the workbook.
type Options struct {
	// Query is written to a second sheet with the data source and time.
	Query        string
	DataSourceID string
	ExecutedAt   time.Time
}

// Build creates the workbook for result. The caller closes it.
func Build(result *fabric.QueryResult, opts Options) (*excelize.File, error) {
	if result == nil {
		return nil, fmt.Errorf("no result to export")
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", resultSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeResult(f, result); err != nil {
		_ = f.Close()
		return nil, err
	}
	if opts.Query != "" {
		if err := writeQuery(f, opts); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

// WriteXLSX writes result as a workbook to w.
func WriteXLSX(w io.Writer, result *fabric.QueryResult, opts Options) error {
	f, err := Build(result, opts)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes result as a workbook to path.
func SaveXLSX(path string, result *fabric.QueryResult, opts Options) error {
	f, err := Build(result, opts)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writeResult(f *excelize.File, result *fabric.QueryResult) error {
	columns := result.ColumnNames()
	if len(columns) == 0 && len(result.Rows) > 0 {
		columns = keysOf(result.Rows[0])
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(resultSheet, "A1", &header); err != nil {
		return err
	}
	if len(columns) > 0 {
		style, err := f.NewStyle(&excelize.Style{
			Font: &excelize.Font{Bold: true},
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E7EEF7"}},
		})
		if err != nil {
			return err
		}
		last, err := excelize.CoordinatesToCellName(len(columns), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(resultSheet, "A1", last, style); err != nil {
			return err
		}
		if err := f.SetPanes(resultSheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}

	for i, row := range result.Rows {
		values := make([]interface{}, len(columns))
		for j, c := range columns {
			values[j] = cellValue(row[c])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultSheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func writeQuery(f *excelize.File, opts Options) error {
	if _, err := f.NewSheet(querySheet); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"data_source", opts.DataSourceID},
		{"query", truncate(opts.Query)},
	}
	if !opts.ExecutedAt.IsZero() {
		rows = append(rows, []interface{}{"executed_at", opts.ExecutedAt.Format(time.RFC3339)})
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(querySheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return f.SetColWidth(querySheet, "B", "B", 100)
}

// cellValue maps driver values onto types excelize writes natively.
func cellValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return truncate(string(x))
	case string:
		return truncate(x)
	case time.Time:
		return x
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x
	default:
		return truncate(fmt.Sprint(x))
	}
}

func truncate(s string) string {
	if len(s) <= maxCellChars {
		return s
	}
	r := []rune(s)
	if len(r) <= maxCellChars {
		return s
	}
	return string(r[:maxCellChars])
}

func keysOf(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
