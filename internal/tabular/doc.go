// Package tabular defines the in-memory table that flows through an export:
// ordered, typed columns and ordered rows of cell values.
//
// A Table is what a query source returns for one page, what a segment store
// persists as one segment, and what the workbook encoder renders as one
// sheet. Cells are restricted to a small set of Go types so that segments
// survive persistence unchanged:
//
//	Text    -> string
//	Integer -> int64
//	Float   -> float64
//	Bool    -> bool
//	Time    -> time.Time
//
// A nil cell is a null value in any column.
package tabular
