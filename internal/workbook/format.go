package workbook

import (
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	minColumnWidth = 10
	maxColumnWidth = 60
)

// Chain runs several FormatFuncs in order, stopping at the first error.
func Chain(fns ...FormatFunc) FormatFunc {
	return func(f *excelize.File, sheet string) error {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(f, sheet); err != nil {
				return err
			}
		}
		return nil
	}
}

// AutoFitColumns sizes each column to its widest value.
func AutoFitColumns(f *excelize.File, sheet string) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}

	var widths []int
	for _, row := range rows {
		for i, v := range row {
			if i >= len(widths) {
				widths = append(widths, minColumnWidth)
			}
			widths[i] = max(widths[i], utf8.RuneCountInString(v)+2)
		}
	}

	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, float64(min(w, maxColumnWidth))); err != nil {
			return err
		}
	}
	return nil
}

// StyleHeader bolds the header row and freezes it above the data.
func StyleHeader(f *excelize.File, sheet string) error {
	cols, err := f.GetCols(sheet)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E0E0E0"}},
	})
	if err != nil {
		return err
	}

	last, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// DefaultFormat is the presentation applied when callers do not pass one.
var DefaultFormat = Chain(StyleHeader, AutoFitColumns)
