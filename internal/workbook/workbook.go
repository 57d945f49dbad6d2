package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

// ErrEncoding wraps failures of the spreadsheet or zip encoder.
var ErrEncoding = errors.New("encoding error")

// SheetName is the name of the single sheet in every exported workbook.
const SheetName = "Data"

// ContentType is the MIME type of an xlsx workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TimeLayout is how Time cells are written: UTC with all nine fraction
// digits, so the text sorts chronologically and decodes to the same instant.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatFunc adjusts sheet presentation after the data is written: column
// widths, styles, panes. It must not change cell values.
type FormatFunc func(f *excelize.File, sheet string) error

// ToWorkbookBytes renders t as a single-sheet workbook.
func ToWorkbookBytes(t *tabular.Table, format FormatFunc) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("%w: rename sheet: %w", ErrEncoding, err)
	}

	if len(t.Columns) > 0 {
		header := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			header[i] = c.Name
		}
		if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
			return nil, fmt.Errorf("%w: header: %w", ErrEncoding, err)
		}
	}

	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrEncoding, i, err)
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = cellValue(v)
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrEncoding, i, err)
		}
	}

	if format != nil {
		if err := format(f, SheetName); err != nil {
			return nil, fmt.Errorf("%w: format sheet: %w", ErrEncoding, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("%w: write workbook: %w", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// cellValue maps a table cell to what is written to the sheet. Times are
// written as text since an Excel serial date holds neither the zone nor
// sub-millisecond digits. NaN and infinities have no numeric cell form.
func cellValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return strconv.FormatFloat(val, 'g', -1, 64)
		}
	}
	return v
}

// Decode reads the first sheet of an xlsx workbook into a table with the
// given columns. The header row must name the columns in order. When
// columns is nil every column is read as Text using the header names.
//
// Empty cells decode as nil, so an empty string written as Text comes back
// as a null cell. Text is returned verbatim, surrounding blanks included.
func Decode(data []byte, columns []tabular.Column) (*tabular.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	if len(rows) == 0 {
		return tabular.New(columns...), nil
	}

	header := rows[0]
	if columns == nil {
		columns = make([]tabular.Column, len(header))
		for i, name := range header {
			columns[i] = tabular.Column{Name: name, Type: tabular.Text}
		}
	}
	if err := checkHeader(header, columns); err != nil {
		return nil, err
	}

	t := tabular.New(columns...)
	t.Rows = make([][]any, 0, len(rows)-1)
	for r, raw := range rows[1:] {
		row := make([]any, len(columns))
		for c, col := range columns {
			if c >= len(raw) {
				continue // GetRows trims trailing empty cells
			}
			v, err := decodeCell(col.Type, raw[c])
			if err != nil {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
				return nil, fmt.Errorf("cell %s (%s): %w", cell, col.Name, err)
			}
			row[c] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func checkHeader(header []string, columns []tabular.Column) error {
	if len(header) != len(columns) {
		return fmt.Errorf("header has %d columns, want %d", len(header), len(columns))
	}
	for i, c := range columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), c.Name) {
			return fmt.Errorf("column not found: %q at position %d (header has %q)", c.Name, i+1, header[i])
		}
	}
	return nil
}

// decodeCell parses a raw cell value. Time cells are read in TimeLayout,
// falling back to Excel serial dates and the tabular text parser for
// workbooks written elsewhere.
func decodeCell(ct tabular.ColumnType, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if ct == tabular.Text {
		return raw, nil
	}
	if ct == tabular.Time {
		if t, err := time.Parse(TimeLayout, raw); err == nil {
			return t, nil
		}
		if serial, err := strconv.ParseFloat(raw, 64); err == nil {
			t, err := excelize.ExcelDateToTime(serial, false)
			if err != nil {
				return nil, err
			}
			return t.Round(time.Millisecond), nil
		}
	}
	return tabular.ParseCell(ct, raw)
}
