// Package watchdog periodically reaps idle containers: soft-idle
// WarmIdle containers are stopped, and any container idle past the hard
// threshold is removed, grounded on the teacher's cleanupLoop/cleanupExpired pattern
// in pool_lifecycle.go, but split out into its own collaborator per
// spec.md §2's component table (C10).
package watchdog

import (
	"context"
	"time"

	"github.com/lambdah/lambdah/internal/driver"
	"github.com/lambdah/lambdah/internal/logging"
	"github.com/lambdah/lambdah/internal/metrics"
	"github.com/lambdah/lambdah/internal/pool"
)

// TickInterval is the watchdog's period (spec.md §4.8).
const TickInterval = 30 * time.Second

// StopGrace is the grace period passed to driver.Stop for soft-idle
// containers.
const StopGrace = 2 * time.Second

// Watchdog owns the periodic idle-reaping loop.
type Watchdog struct {
	drv       driver.Driver
	pool      *pool.Pool
	softIdle  time.Duration
	hardIdle  time.Duration
}

// New builds a Watchdog reaping containers idle past soft/hard thresholds.
func New(drv driver.Driver, p *pool.Pool, softIdle, hardIdle time.Duration) *Watchdog {
	return &Watchdog{drv: drv, pool: p, softIdle: softIdle, hardIdle: hardIdle}
}

// Run ticks every TickInterval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	for _, key := range w.pool.Keys() {
		stops, removes := w.pool.CleanupIdle(key, w.softIdle, w.hardIdle)

		for _, s := range stops {
			if err := w.drv.Stop(ctx, s.ContainerID, StopGrace); err != nil {
				logging.Op().Warn("watchdog stop failed", "function_key", key, "container", s.ContainerID, "error", err)
				continue
			}
			metrics.Global().WatchdogStops.WithLabelValues(key).Inc()
		}

		for _, r := range removes {
			if err := w.drv.Remove(ctx, r.ContainerID, false); err != nil {
				logging.Op().Warn("watchdog remove failed", "function_key", key, "container", r.ContainerID, "error", err)
				continue
			}
			metrics.Global().WatchdogRemoves.WithLabelValues(key).Inc()
			w.pool.ReapDead(key)
		}
	}
}
