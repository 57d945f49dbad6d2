package tabular

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSchemaMismatch is returned when tables with different columns are
// combined into one.
var ErrSchemaMismatch = errors.New("schema mismatch")

// ColumnType is the declared type of every cell in a column.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Float
	Bool
	Time
)

var columnTypeNames = map[ColumnType]string{
	Text:    "text",
	Integer: "integer",
	Float:   "float",
	Bool:    "bool",
	Time:    "time",
}

// String returns the lowercase name used in persisted segments.
func (ct ColumnType) String() string {
	if name, ok := columnTypeNames[ct]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(ct))
}

// ParseColumnType is the inverse of ColumnType.String.
func ParseColumnType(s string) (ColumnType, error) {
	for ct, name := range columnTypeNames {
		if strings.EqualFold(name, s) {
			return ct, nil
		}
	}
	return Text, fmt.Errorf("unknown column type %q", s)
}

// Column is a named, typed column.
type Column struct {
	Name string
	Type ColumnType
}

// Table is an ordered set of columns and an ordered set of rows.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// New returns an empty table with the given columns.
func New(columns ...Column) *Table {
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// AddRow appends one row. Values are normalized to the column's Go type;
// a value that cannot be represented in its column is an error and the
// table is left unchanged.
func (t *Table) AddRow(values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}

	row := make([]any, len(values))
	for i, v := range values {
		cell, err := Normalize(t.Columns[i].Type, v)
		if err != nil {
			return fmt.Errorf("column %q: %w", t.Columns[i].Name, err)
		}
		row[i] = cell
	}

	t.Rows = append(t.Rows, row)
	return nil
}

// MustAddRow is AddRow for fixtures; it panics on error.
func (t *Table) MustAddRow(values ...any) *Table {
	if err := t.AddRow(values...); err != nil {
		panic(err)
	}
	return t
}

// SameSchema reports whether both tables have identical column names and
// types in the same order.
func (t *Table) SameSchema(other *Table) bool {
	if len(t.Columns) != len(other.Columns) {
		return false
	}
	for i := range t.Columns {
		if t.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the table's structure. Cell values are
// immutable Go values so they are shared.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		r := make([]any, len(row))
		copy(r, row)
		out.Rows[i] = r
	}
	return out
}

// Concat returns a new table holding the rows of all tables in order.
// All tables must share one schema. Concat of nothing is an empty table
// without columns.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New(), nil
	}

	first := tables[0]
	total := 0
	for i, t := range tables {
		if !first.SameSchema(t) {
			return nil, fmt.Errorf("table %d: %w: got [%s], want [%s]",
				i, ErrSchemaMismatch, describe(t.Columns), describe(first.Columns))
		}
		total += t.Len()
	}

	out := New(first.Columns...)
	out.Rows = make([][]any, 0, total)
	for _, t := range tables {
		for _, row := range t.Rows {
			r := make([]any, len(row))
			copy(r, row)
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

func describe(cols []Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.Name + " " + c.Type.String()
	}
	return strings.Join(parts, ", ")
}

// Normalize converts v to the Go type that represents ct.
func Normalize(ct ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch ct {
	case Text:
		switch val := v.(type) {
		case string:
			return val, nil
		case []byte:
			return string(val), nil
		case fmt.Stringer:
			return val.String(), nil
		}
	case Integer:
		switch val := v.(type) {
		case int:
			return int64(val), nil
		case int8:
			return int64(val), nil
		case int16:
			return int64(val), nil
		case int32:
			return int64(val), nil
		case int64:
			return val, nil
		case uint8:
			return int64(val), nil
		case uint16:
			return int64(val), nil
		case uint32:
			return int64(val), nil
		}
	case Float:
		switch val := v.(type) {
		case float32:
			return float64(val), nil
		case float64:
			return val, nil
		case int:
			return float64(val), nil
		case int64:
			return float64(val), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Time:
		if tm, ok := v.(time.Time); ok {
			return tm, nil
		}
	}

	return nil, fmt.Errorf("cannot store %T in %s column", v, ct)
}
