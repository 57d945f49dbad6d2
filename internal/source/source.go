// Package source provides paged query sources for exports.
//
// A source returns page pageNumber (1-based) of at most pageSize rows.
// Pagination must be deterministic for the duration of an export, and a
// page with zero rows means the data is exhausted.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

// ErrInvalidPage is returned for page numbers below 1 or non-positive sizes.
var ErrInvalidPage = errors.New("invalid page request")

// Source yields one page of tabular data.
type Source interface {
	Query(ctx context.Context, pageNumber, pageSize int) (*tabular.Table, error)
}

// Func adapts an ordinary function to Source.
type Func func(ctx context.Context, pageNumber, pageSize int) (*tabular.Table, error)

// Query calls f.
func (f Func) Query(ctx context.Context, pageNumber, pageSize int) (*tabular.Table, error) {
	return f(ctx, pageNumber, pageSize)
}

// Offset returns the number of rows preceding pageNumber.
func Offset(pageNumber, pageSize int) (int, error) {
	if pageNumber < 1 {
		return 0, fmt.Errorf("%w: page %d (pages start at 1)", ErrInvalidPage, pageNumber)
	}
	if pageSize < 1 {
		return 0, fmt.Errorf("%w: page size %d", ErrInvalidPage, pageSize)
	}
	return (pageNumber - 1) * pageSize, nil
}
