package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

var (
	// ErrUnknownOperation is returned for ids the store never issued or has
	// already cleaned up. Not retryable.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrStoreUnavailable wraps backend failures. Callers may retry the call.
	ErrStoreUnavailable = errors.New("segment store unavailable")

	// ErrSchemaMismatch is returned by Assemble when segments of one
	// operation do not share a column schema.
	ErrSchemaMismatch = tabular.ErrSchemaMismatch

	// ErrEmptySegment is returned by Append for a table without rows.
	ErrEmptySegment = errors.New("segment has no rows")

	// ErrInvalidWindow is returned by Assemble for negative skip or take.
	ErrInvalidWindow = errors.New("invalid segment window")
)

// Store persists the segments of export operations.
type Store[ID comparable] interface {
	// NewOperation allocates a fresh operation id.
	NewOperation(ctx context.Context) (ID, error)

	// Append stores one segment under the operation, after all segments
	// appended before it.
	Append(ctx context.Context, id ID, data *tabular.Table) error

	// SegmentCount returns the number of segments stored for the operation.
	SegmentCount(ctx context.Context, id ID) (int, error)

	// Assemble concatenates segments in arrival order, skipping the first
	// skip segments and including at most take of them. take == 0 means all
	// remaining segments.
	Assemble(ctx context.Context, id ID, skip, take int) (*tabular.Table, error)

	// Cleanup releases every segment of the operation. It is idempotent.
	Cleanup(ctx context.Context, id ID) error
}

// Sweeper is implemented by stores that can find operations nobody has
// touched since a cutoff.
type Sweeper interface {
	// Sweep cleans up operations last modified before olderThan and returns
	// how many were removed.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// window converts skip/take into a half-open index range over n segments.
func window(n, skip, take int) (lo, hi int, err error) {
	if skip < 0 || take < 0 {
		return 0, 0, fmt.Errorf("%w: skip=%d take=%d", ErrInvalidWindow, skip, take)
	}
	lo = min(skip, n)
	hi = n
	if take > 0 {
		hi = min(lo+take, n)
	}
	return lo, hi, nil
}

// checkAppend validates a segment before any backend writes it.
func checkAppend(data *tabular.Table) error {
	if data.Len() == 0 {
		return ErrEmptySegment
	}
	return nil
}

// unavailable wraps a backend error so that errors.Is matches both
// ErrStoreUnavailable and the original cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
