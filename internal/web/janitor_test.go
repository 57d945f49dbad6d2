package web

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/segexport/internal/metrics"
)

type fakeSweeper struct {
	mu      sync.Mutex
	calls   []time.Time
	removed int
	err     error
}

func (f *fakeSweeper) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, olderThan)
	return f.removed, f.err
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestJanitor_RunOnceUsesTTL(t *testing.T) {
	sweeper := &fakeSweeper{removed: 3}
	j := NewJanitor(sweeper, 2*time.Hour, time.Hour, metrics.New())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	removed, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	require.Len(t, sweeper.calls, 1)
	assert.Equal(t, now.Add(-2*time.Hour), sweeper.calls[0])
}

func TestJanitor_RunOnceReportsFailure(t *testing.T) {
	boom := errors.New("bucket unavailable")
	j := NewJanitor(&fakeSweeper{err: boom}, time.Hour, time.Hour, nil)

	_, err := j.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestJanitor_RunStopsWithContext(t *testing.T) {
	sweeper := &fakeSweeper{}
	j := NewJanitor(sweeper, time.Hour, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sweeper.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
