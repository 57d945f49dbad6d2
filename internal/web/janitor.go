package web

// janitor.go removes abandoned export operations.
//
// Clients that stop paging never call Cleanup, leaving their segments in
// the store. When enabled, the janitor sweeps operations untouched for
// longer than the TTL: once at start, then every interval until its
// context ends. A failed sweep is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/segexport/internal/metrics"
	"github.com/JonMunkholm/segexport/internal/segment"
)

// Janitor periodically sweeps a store.
type Janitor struct {
	sweeper  segment.Sweeper
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewJanitor returns a janitor removing operations idle for longer than ttl.
func NewJanitor(sweeper segment.Sweeper, ttl, interval time.Duration, m *metrics.Metrics) *Janitor {
	return &Janitor{
		sweeper:  sweeper,
		ttl:      ttl,
		interval: interval,
		metrics:  m,
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("janitor started", "ttl", j.ttl, "interval", j.interval)

	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many operations it
// removed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	start := j.now()
	removed, err := j.sweeper.Sweep(ctx, start.Add(-j.ttl))
	j.metrics.Swept(removed)
	if err != nil {
		slog.Error("janitor sweep failed", "removed", removed, "error", err)
		return removed, err
	}

	if removed > 0 {
		slog.Info("janitor removed abandoned exports",
			"removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		slog.Debug("janitor found nothing to remove")
	}
	return removed, nil
}
