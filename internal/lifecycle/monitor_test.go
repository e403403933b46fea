package lifecycle

import (
	"context"
	"time"

	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lambdah/lambdah/internal/domain"
	"github.com/lambdah/lambdah/internal/driver"
	"github.com/lambdah/lambdah/internal/pool"
)

type fakeDriver struct {
	events  chan domain.ContainerEvent
	running map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{events: make(chan domain.ContainerEvent, 16), running: map[string]bool{}}
}

func (f *fakeDriver) Create(ctx context.Context, spec driver.CreateSpec) (string, error) {
	return "", nil
}
func (f *fakeDriver) Start(ctx context.Context, id string) error                   { return nil }
func (f *fakeDriver) Stop(ctx context.Context, id string, grace time.Duration) error {
	return nil
}
func (f *fakeDriver) Remove(ctx context.Context, id string, force bool) error { return nil }
func (f *fakeDriver) InspectRunning(ctx context.Context, id string) (bool, error) {
	return f.running[id], nil
}
func (f *fakeDriver) Events(ctx context.Context) (<-chan domain.ContainerEvent, error) {
	return f.events, nil
}

type fixedLookup struct{ key string }

func (l fixedLookup) FunctionKeyForContainer(containerID string) (string, bool) {
	return l.key, true
}

func TestApplyStartTransitionsToWarmIdle(t *testing.T) {
	p := pool.New()
	p.Add("fn1", "c1")
	p.SetStateByContainerID("fn1", "c1", pool.Busy) // pretend it was mid-create

	m := &Monitor{pool: p, lookup: fixedLookup{key: "fn1"}}
	m.apply(domain.ContainerEvent{Kind: domain.EventStart, ContainerID: "c1"})

	require.Equal(t, 1, p.CountState("fn1", pool.WarmIdle))
}

func TestApplyDieRemovesRecord(t *testing.T) {
	p := pool.New()
	p.Add("fn1", "c1")

	m := &Monitor{pool: p, lookup: fixedLookup{key: "fn1"}}
	m.apply(domain.ContainerEvent{Kind: domain.EventDie, ContainerID: "c1"})

	require.Empty(t, p.Snapshot("fn1"))
}

func TestApplyStopTransitionsToStopped(t *testing.T) {
	p := pool.New()
	p.Add("fn1", "c1")

	m := &Monitor{pool: p, lookup: fixedLookup{key: "fn1"}}
	m.apply(domain.ContainerEvent{Kind: domain.EventStop, ContainerID: "c1"})

	require.Equal(t, 1, p.CountState("fn1", pool.Stopped))
}

func TestReconcileDropsContainerDriverNoLongerSees(t *testing.T) {
	p := pool.New()
	p.Add("fn1", "c1")
	p.AcquireIdle("fn1") // Busy, but driver says it's gone

	drv := newFakeDriver()
	drv.running["c1"] = false

	m := New(drv, p, fixedLookup{key: "fn1"})
	m.reconcile(context.Background())

	require.Empty(t, p.Snapshot("fn1"))
}
