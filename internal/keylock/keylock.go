// Package keylock provides one mutex per key, so work on one export
// operation serializes while different operations run in parallel.
package keylock

import "sync"

// Locks hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them. The zero value is not
// usable; call New.
type Locks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty lock set.
func New[K comparable]() *Locks[K] {
	return &Locks[K]{locks: make(map[K]*entry)}
}

// Lock blocks until the caller holds the lock for key and returns the
// matching unlock function.
func (l *Locks[K]) Lock(key K) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len reports how many keys currently have a lock entry.
func (l *Locks[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
