package segment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

var (
	_ Store[string] = (*MemoryStore[string])(nil)
	_ Sweeper       = (*MemoryStore[string])(nil)
)

// MemoryStore keeps segments in process memory. It is safe for concurrent
// use; appends to one operation are serialized by a per-operation mutex.
type MemoryStore[ID comparable] struct {
	newID func() ID
	now   func() time.Time

	mu  sync.RWMutex
	ops map[ID]*memOperation
}

type memOperation struct {
	mu       sync.Mutex
	segments []*tabular.Table
	touched  time.Time
	removed  bool
}

// NewMemoryStore returns an empty store. newID must return a fresh id on
// every call (for example uuid.New).
func NewMemoryStore[ID comparable](newID func() ID) *MemoryStore[ID] {
	return &MemoryStore[ID]{
		newID: newID,
		now:   time.Now,
		ops:   make(map[ID]*memOperation),
	}
}

// maxIDAttempts bounds retries when newID returns an id already in use.
const maxIDAttempts = 8

// NewOperation implements Store.
func (s *MemoryStore[ID]) NewOperation(ctx context.Context) (ID, error) {
	var zero ID
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxIDAttempts {
		id := s.newID()
		if _, exists := s.ops[id]; exists {
			continue
		}
		s.ops[id] = &memOperation{touched: s.now()}
		return id, nil
	}

	return zero, unavailable("new operation", fmt.Errorf("id generator returned %d duplicates", maxIDAttempts))
}

func (s *MemoryStore[ID]) get(id ID) (*memOperation, error) {
	s.mu.RLock()
	op, ok := s.ops[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOperation, id)
	}
	return op, nil
}

// Append implements Store. The store keeps its own copy of data.
func (s *MemoryStore[ID]) Append(ctx context.Context, id ID, data *tabular.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkAppend(data); err != nil {
		return err
	}

	op, err := s.get(id)
	if err != nil {
		return err
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	// Cleanup may have won the race between get and Lock.
	if op.removed {
		return fmt.Errorf("%w: %v", ErrUnknownOperation, id)
	}

	op.segments = append(op.segments, data.Clone())
	op.touched = s.now()
	return nil
}

// SegmentCount implements Store.
func (s *MemoryStore[ID]) SegmentCount(ctx context.Context, id ID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	op, err := s.get(id)
	if err != nil {
		return 0, err
	}

	op.mu.Lock()
	defer op.mu.Unlock()
	return len(op.segments), nil
}

// Assemble implements Store.
func (s *MemoryStore[ID]) Assemble(ctx context.Context, id ID, skip, take int) (*tabular.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	op, err := s.get(id)
	if err != nil {
		return nil, err
	}

	op.mu.Lock()
	lo, hi, err := window(len(op.segments), skip, take)
	if err != nil {
		op.mu.Unlock()
		return nil, err
	}
	selected := make([]*tabular.Table, hi-lo)
	copy(selected, op.segments[lo:hi])
	op.mu.Unlock()

	out, err := tabular.Concat(selected...)
	if err != nil {
		return nil, fmt.Errorf("assemble %v: %w", id, err)
	}
	return out, nil
}

// Cleanup implements Store.
func (s *MemoryStore[ID]) Cleanup(_ context.Context, id ID) error {
	s.mu.Lock()
	op, ok := s.ops[id]
	delete(s.ops, id)
	s.mu.Unlock()

	if ok {
		op.mu.Lock()
		op.removed = true
		op.segments = nil
		op.mu.Unlock()
	}
	return nil
}

// Sweep implements Sweeper.
func (s *MemoryStore[ID]) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.RLock()
	var stale []ID
	for id, op := range s.ops {
		op.mu.Lock()
		if op.touched.Before(olderThan) {
			stale = append(stale, id)
		}
		op.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, id := range stale {
		if err := s.Cleanup(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Len returns the number of live operations.
func (s *MemoryStore[ID]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops)
}
