// Package pool manages the set of warm containers kept alive between
// invocations of the same function, the way the teacher's internal/pool
// manages warm Firecracker VMs: per-key state tracked under a lock, idle
// containers reused on the hot path, and a background reaper that evicts
// anything that has been idle too long.
//
// # Container states
//
// A container record moves through a small state machine:
//
//	WarmIdle  -> Busy       (acquireIdle)
//	Busy      -> WarmIdle   (returnToIdle)
//	WarmIdle  -> Stopped    (cleanupIdle, soft threshold)
//	any       -> Dead       (cleanupIdle, hard threshold; container removed)
//
// # Concurrency
//
// Each function key has its own record guarded by a mutex. cleanupIdle
// uses the same two-pass pattern as the teacher's cleanupExpired: compute
// which containers to stop/remove while holding the lock, then perform
// the actual driver calls after releasing it, so slow I/O never blocks
// acquireIdle/returnToIdle for unrelated requests.
package pool

import (
	"sync"
	"time"

	"github.com/lambdah/lambdah/internal/logging"
	"github.com/lambdah/lambdah/internal/metrics"
)

// State is a warm pool container's lifecycle state.
type State string

const (
	WarmIdle State = "warm_idle"
	Busy     State = "busy"
	Stopped  State = "stopped"
	Dead     State = "dead"
)

// Container is a single tracked container instance for a function key.
type Container struct {
	ID          string
	FunctionKey string
	State       State
	LastUsed    time.Time
	CreatedAt   time.Time
}

type record struct {
	mu         sync.Mutex
	containers map[string]*Container // containerID -> Container
}

// Pool tracks warm containers for every function key.
type Pool struct {
	mu      sync.Mutex
	records map[string]*record
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{records: make(map[string]*record)}
}

func (p *Pool) getOrCreate(key string) *record {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[key]
	if !ok {
		rec = &record{containers: make(map[string]*Container)}
		p.records[key] = rec
	}
	return rec
}

// Add registers a newly created container as WarmIdle.
func (p *Pool) Add(functionKey, containerID string) {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	rec.containers[containerID] = &Container{
		ID:          containerID,
		FunctionKey: functionKey,
		State:       WarmIdle,
		LastUsed:    time.Now(),
		CreatedAt:   time.Now(),
	}
	rec.mu.Unlock()
	p.refreshStateGauge(functionKey)
}

// AcquireIdle claims one WarmIdle container for functionKey, flipping it
// to Busy, or reports none is available.
func (p *Pool) AcquireIdle(functionKey string) (*Container, bool) {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, c := range rec.containers {
		if c.State == WarmIdle {
			c.State = Busy
			p.refreshStateGaugeLocked(functionKey, rec)
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

// MarkBusyByContainerID flips a specific WarmIdle container to Busy, the
// transition the Runtime API's Next handler performs for the exact
// container that just dequeued a work item (spec.md §3's "only one of
// {WarmIdle→Busy} transition per dequeuer" invariant — unlike AcquireIdle,
// which picks whichever WarmIdle container is first, this targets the
// caller's own container id). Reports false if the container is unknown
// or not currently WarmIdle.
func (p *Pool) MarkBusyByContainerID(functionKey, containerID string) bool {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	c, ok := rec.containers[containerID]
	if ok && c.State == WarmIdle {
		c.State = Busy
	} else {
		ok = false
	}
	p.refreshStateGaugeLocked(functionKey, rec)
	rec.mu.Unlock()
	return ok
}

// ReturnToIdle marks a container Busy -> WarmIdle and stamps LastUsed, the
// same transition the teacher's Release performs after a VM finishes an
// invocation. Returning an unknown or non-Busy container is a no-op.
func (p *Pool) ReturnToIdle(functionKey, containerID string) {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	if c, ok := rec.containers[containerID]; ok && c.State == Busy {
		c.State = WarmIdle
		c.LastUsed = time.Now()
	}
	rec.mu.Unlock()
	p.refreshStateGauge(functionKey)
}

// SetStateByContainerID force-sets a container's state, used by the
// Lifecycle Monitor translating driver events into pool transitions.
func (p *Pool) SetStateByContainerID(functionKey, containerID string, state State) {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	if c, ok := rec.containers[containerID]; ok {
		c.State = state
	}
	rec.mu.Unlock()
	p.refreshStateGauge(functionKey)
}

// RemoveByContainerID drops the container record entirely (post-Remove).
func (p *Pool) RemoveByContainerID(functionKey, containerID string) {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	delete(rec.containers, containerID)
	rec.mu.Unlock()
	p.refreshStateGauge(functionKey)
}

// CountState returns how many containers for functionKey are in state.
func (p *Pool) CountState(functionKey string, state State) int {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := 0
	for _, c := range rec.containers {
		if c.State == state {
			n++
		}
	}
	return n
}

// ListStopped returns every Stopped container for functionKey.
func (p *Pool) ListStopped(functionKey string) []Container {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []Container
	for _, c := range rec.containers {
		if c.State == Stopped {
			out = append(out, *c)
		}
	}
	return out
}

// Snapshot returns a copy of every container tracked for functionKey,
// for diagnostics and the autoscaler's queue/pool-state decision inputs.
func (p *Pool) Snapshot(functionKey string) []Container {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Container, 0, len(rec.containers))
	for _, c := range rec.containers {
		out = append(out, *c)
	}
	return out
}

// Keys returns every function key the pool holds a record for, including
// keys whose record currently has no containers.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.records))
	for k := range p.records {
		keys = append(keys, k)
	}
	return keys
}

// StopAction and RemoveAction are the driver calls cleanupIdle asks the
// caller to perform once the pool lock has been released.
type StopAction struct {
	FunctionKey, ContainerID string
}

type RemoveAction struct {
	FunctionKey, ContainerID string
}

// CleanupIdle scans every tracked container for functionKey and decides,
// under the record's lock, which WarmIdle containers have been idle past
// soft (-> Stopped) and which containers, in any live state, have been
// idle past hard (-> Dead, to be removed). It returns the actions to perform; the caller
// is expected to invoke the driver's Stop/Remove outside any pool lock,
// mirroring the teacher's cleanupExpired two-pass design.
func (p *Pool) CleanupIdle(functionKey string, soft, hard time.Duration) ([]StopAction, []RemoveAction) {
	rec := p.getOrCreate(functionKey)
	now := time.Now()

	var stops []StopAction
	var removes []RemoveAction

	rec.mu.Lock()
	for _, c := range rec.containers {
		idle := now.Sub(c.LastUsed)
		switch c.State {
		case WarmIdle:
			// Removal is state-independent: a WarmIdle container already past
			// hard skips Stopped entirely rather than waiting a further cycle.
			switch {
			case idle >= hard:
				c.State = Dead
				removes = append(removes, RemoveAction{FunctionKey: functionKey, ContainerID: c.ID})
			case idle >= soft:
				c.State = Stopped
				stops = append(stops, StopAction{FunctionKey: functionKey, ContainerID: c.ID})
			}
		case Stopped, Busy:
			if idle >= hard {
				c.State = Dead
				removes = append(removes, RemoveAction{FunctionKey: functionKey, ContainerID: c.ID})
			}
		}
	}
	rec.mu.Unlock()

	if len(stops) > 0 || len(removes) > 0 {
		logging.Op().Info("pool idle cleanup", "function_key", functionKey,
			"stopping", len(stops), "removing", len(removes))
	}
	p.refreshStateGauge(functionKey)
	return stops, removes
}

// ReapDead drops every Dead container once its Remove action has
// completed, so it stops being counted by Snapshot/CountState.
func (p *Pool) ReapDead(functionKey string) {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	for id, c := range rec.containers {
		if c.State == Dead {
			delete(rec.containers, id)
		}
	}
	rec.mu.Unlock()
	p.refreshStateGauge(functionKey)
}

func (p *Pool) refreshStateGauge(functionKey string) {
	rec := p.getOrCreate(functionKey)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p.refreshStateGaugeLocked(functionKey, rec)
}

func (p *Pool) refreshStateGaugeLocked(functionKey string, rec *record) {
	counts := map[State]int{}
	for _, c := range rec.containers {
		counts[c.State]++
	}
	m := metrics.Global()
	for _, s := range []State{WarmIdle, Busy, Stopped, Dead} {
		m.PoolState.WithLabelValues(functionKey, string(s)).Set(float64(counts[s]))
	}
}
