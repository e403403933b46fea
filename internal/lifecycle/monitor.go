// Package lifecycle consumes the Container Driver's event stream and
// reconciles the Warm Pool's view of the world with it, the way the
// teacher's pool package keeps its VM records in sync with backend state
// (see pool_lifecycle.go's healthCheckLoop/cleanupLoop pattern) — except
// here reconciliation is event-driven rather than purely poll-driven.
package lifecycle

import (
	"context"
	"time"

	"github.com/lambdah/lambdah/internal/domain"
	"github.com/lambdah/lambdah/internal/driver"
	"github.com/lambdah/lambdah/internal/logging"
	"github.com/lambdah/lambdah/internal/pool"
)

// ReconcileInterval is how often the periodic sync pass runs, picking up
// any container events the stream missed (spec.md §4.6).
const ReconcileInterval = 5 * time.Second

// FunctionKeyLookup resolves a containerID back to the function key the
// pool records it under. The monitor needs this because driver events
// carry only a container id, while the pool is keyed by function key.
type FunctionKeyLookup interface {
	FunctionKeyForContainer(containerID string) (string, bool)
}

// Monitor drains a driver's event channel and applies the Create/Start/
// Stop/Die/Kill/Remove mapping to the pool.
type Monitor struct {
	drv    driver.Driver
	pool   *pool.Pool
	lookup FunctionKeyLookup
}

// New builds a Monitor over drv, updating p, using lookup to map
// container ids to function keys.
func New(drv driver.Driver, p *pool.Pool, lookup FunctionKeyLookup) *Monitor {
	return &Monitor{drv: drv, pool: p, lookup: lookup}
}

// Run consumes drv's event stream and runs the periodic reconciliation
// sync until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	events, err := m.drv.Events(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.apply(ev)
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

// apply maps a single ContainerEvent onto the pool per spec.md §4.6's
// table: Create is a no-op (the creator already added the record), Start
// flips to WarmIdle, Stop flips to Stopped, and Die/Kill/Remove drop the
// record entirely.
func (m *Monitor) apply(ev domain.ContainerEvent) {
	key, ok := m.lookup.FunctionKeyForContainer(ev.ContainerID)
	if !ok {
		return
	}

	switch ev.Kind {
	case domain.EventCreate:
		// record already added by whoever called driver.Create
	case domain.EventStart:
		m.pool.SetStateByContainerID(key, ev.ContainerID, pool.WarmIdle)
	case domain.EventStop:
		m.pool.SetStateByContainerID(key, ev.ContainerID, pool.Stopped)
	case domain.EventDie, domain.EventKill, domain.EventRemove:
		m.pool.RemoveByContainerID(key, ev.ContainerID)
	}
}

// reconcile queries the driver for every container the pool still thinks
// is live and drops any the driver no longer reports as running, the
// catch-all spec.md §4.6 requires for missed events (e.g. an external
// `ctr task kill`).
func (m *Monitor) reconcile(ctx context.Context) {
	for _, key := range m.pool.Keys() {
		for _, c := range m.pool.Snapshot(key) {
			running, err := m.drv.InspectRunning(ctx, c.ID)
			if err != nil {
				logging.Op().Warn("reconcile inspect failed", "container", c.ID, "error", err)
				continue
			}
			if !running && c.State != pool.Stopped {
				logging.Op().Info("reconcile: container no longer running, dropping record",
					"function_key", key, "container", c.ID)
				m.pool.RemoveByContainerID(key, c.ID)
			}
		}
	}
}
