package source

import (
	"context"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

// Slice pages over a fixed in-memory table.
type Slice struct {
	table *tabular.Table
}

// NewSlice returns a source over a copy of t.
func NewSlice(t *tabular.Table) *Slice {
	return &Slice{table: t.Clone()}
}

// Query returns rows [(page-1)*size, page*size) as a new table. Pages past
// the end are empty but keep the columns.
func (s *Slice) Query(ctx context.Context, pageNumber, pageSize int) (*tabular.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	off, err := Offset(pageNumber, pageSize)
	if err != nil {
		return nil, err
	}

	out := tabular.New(s.table.Columns...)
	n := s.table.Len()
	if off >= n {
		return out, nil
	}
	end := min(off+pageSize, n)

	out.Rows = make([][]any, 0, end-off)
	for _, row := range s.table.Rows[off:end] {
		out.Rows = append(out.Rows, append([]any(nil), row...))
	}
	return out, nil
}

// Len returns the total row count.
func (s *Slice) Len() int {
	return s.table.Len()
}
