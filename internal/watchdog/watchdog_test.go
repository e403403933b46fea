package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lambdah/lambdah/internal/domain"
	"github.com/lambdah/lambdah/internal/driver"
	"github.com/lambdah/lambdah/internal/pool"
)

type fakeDriver struct {
	stopped  []string
	removed  []string
	stopErr  error
	removeErr error
}

func (f *fakeDriver) Create(ctx context.Context, spec driver.CreateSpec) (string, error) {
	return "", nil
}
func (f *fakeDriver) Start(ctx context.Context, id string) error { return nil }
func (f *fakeDriver) Stop(ctx context.Context, id string, grace time.Duration) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return nil
}
func (f *fakeDriver) Remove(ctx context.Context, id string, force bool) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	return nil
}
func (f *fakeDriver) InspectRunning(ctx context.Context, id string) (bool, error) { return true, nil }
func (f *fakeDriver) Events(ctx context.Context) (<-chan domain.ContainerEvent, error) {
	return make(chan domain.ContainerEvent), nil
}

func TestSweepStopsSoftIdleContainers(t *testing.T) {
	p := pool.New()
	p.Add("fn1", "c1")
	rec := p.Snapshot("fn1")
	require.Len(t, rec, 1)

	// force LastUsed into the past via the package-internal record access
	// used elsewhere in this package's tests is unavailable here, so drive
	// it through CleanupIdle with a zero soft threshold instead.
	drv := &fakeDriver{}
	w := New(drv, p, 0, time.Hour)
	w.sweep(context.Background())

	require.Contains(t, drv.stopped, "c1")
	require.Equal(t, 1, p.CountState("fn1", pool.Stopped))
}

func TestSweepRemovesHardIdleContainers(t *testing.T) {
	p := pool.New()
	p.Add("fn1", "c1")

	drv := &fakeDriver{}
	w := New(drv, p, 0, 0)
	w.sweep(context.Background())

	require.Contains(t, drv.removed, "c1")
	require.Empty(t, p.Snapshot("fn1"))
}

func TestSweepLogsAndContinuesOnStopFailure(t *testing.T) {
	p := pool.New()
	p.Add("fn1", "c1")
	p.Add("fn1", "c2")

	drv := &fakeDriver{stopErr: errStop}
	w := New(drv, p, 0, time.Hour)
	require.NotPanics(t, func() { w.sweep(context.Background()) })
}

var errStop = errors.New("stop failed")
