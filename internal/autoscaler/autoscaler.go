// Package autoscaler periodically compares per-function queue depth
// against warm pool state and restarts or creates containers to keep up,
// grounded on the teacher's EnsureReady pre-warm pass (pool_lifecycle.go)
// but driven by a tick loop rather than being called from an API handler.
package autoscaler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lambdah/lambdah/internal/driver"
	"github.com/lambdah/lambdah/internal/invqueue"
	"github.com/lambdah/lambdah/internal/logging"
	"github.com/lambdah/lambdah/internal/metrics"
	"github.com/lambdah/lambdah/internal/pool"
	"github.com/lambdah/lambdah/internal/registry"
)

// TickInterval is the autoscaler's control loop period (spec.md §4.7).
const TickInterval = 250 * time.Millisecond

// PlanScale is the pure decision function from spec.md §4.7: given the
// current queue size, the number of WarmIdle containers, and the number
// of Stopped containers, decide how many Stopped containers to restart
// and how many new containers to create.
func PlanScale(queueSize, warmIdle, stopped int) (restart, create int) {
	if queueSize <= warmIdle {
		return 0, 0
	}
	need := queueSize - warmIdle
	restart = need
	if stopped < restart {
		restart = stopped
	}
	create = need - restart
	return restart, create
}

// EnvResolver resolves a function's environment (with secrets already
// substituted) for container creation.
type EnvResolver interface {
	ResolveEnv(ctx context.Context, fn registry.Function) (map[string]string, error)
}

// ImageEnsurer ensures fn's image exists before a container is created
// from it, the Image Builder collaborator spec.md §4.7 delegates to.
type ImageEnsurer interface {
	EnsureImage(ctx context.Context, fn registry.Function) (imageRef string, err error)
}

// Autoscaler owns the periodic loop applying PlanScale's decisions via
// the Container Driver.
type Autoscaler struct {
	drv            driver.Driver
	pool           *pool.Pool
	queues         *invqueue.Queues
	reg            registry.Registry
	env            EnvResolver
	images         ImageEnsurer
	register       func(functionKey, containerID string) // registers container -> function key for lifecycle lookups
	runtimeAPIAddr string                                 // injected as AWS_LAMBDA_RUNTIME_API, host-reachable from inside a worker container
}

// New builds an Autoscaler. register is called once a new container has
// been created, started and added to the pool, so the Lifecycle Monitor
// can map driver events back to a function key. runtimeAPIAddr is the host-reachable address workers use
// to reach the Runtime API (spec.md §6).
func New(drv driver.Driver, p *pool.Pool, queues *invqueue.Queues, reg registry.Registry,
	env EnvResolver, images ImageEnsurer, register func(functionKey, containerID string), runtimeAPIAddr string) *Autoscaler {
	return &Autoscaler{
		drv: drv, pool: p, queues: queues, reg: reg, env: env, images: images,
		register: register, runtimeAPIAddr: runtimeAPIAddr,
	}
}

// Run ticks every TickInterval until ctx is cancelled, applying a scale
// plan per known function key.
func (a *Autoscaler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Autoscaler) tick(ctx context.Context) {
	for _, key := range a.pool.Keys() {
		queueSize := a.queues.Depth(key)
		warmIdle := a.pool.CountState(key, pool.WarmIdle)
		stopped := a.pool.CountState(key, pool.Stopped)

		restart, create := PlanScale(queueSize, warmIdle, stopped)
		metrics.Global().QueueDepth.WithLabelValues(key).Set(float64(queueSize))
		if restart == 0 && create == 0 {
			continue
		}
		a.applyRestart(ctx, key, restart)
		a.applyCreate(ctx, key, create)
	}
}

func (a *Autoscaler) applyRestart(ctx context.Context, key string, n int) {
	stopped := a.pool.ListStopped(key)
	for i := 0; i < n && i < len(stopped); i++ {
		c := stopped[i]
		if err := a.drv.Start(ctx, c.ID); err != nil {
			logging.Op().Warn("autoscaler restart failed", "function_key", key, "container", c.ID, "error", err)
			continue
		}
		a.pool.SetStateByContainerID(key, c.ID, pool.WarmIdle)
		metrics.Global().AutoscaleRestarts.WithLabelValues(key).Inc()
	}
}

func (a *Autoscaler) applyCreate(ctx context.Context, key string, n int) {
	if n <= 0 {
		return
	}
	fn, ok := a.reg.GetFunctionByKey(key)
	if !ok {
		logging.Op().Warn("autoscaler create skipped: unknown function key", "function_key", key)
		return
	}

	for i := 0; i < n; i++ {
		imageRef, err := a.images.EnsureImage(ctx, fn)
		if err != nil {
			logging.Op().Warn("autoscaler image ensure failed", "function", fn.Name, "error", err)
			continue
		}
		env, err := a.env.ResolveEnv(ctx, fn)
		if err != nil {
			logging.Op().Warn("autoscaler env resolve failed", "function", fn.Name, "error", err)
			continue
		}
		instanceID := uuid.NewString()
		containerName := fn.Name + "-" + instanceID
		env = sanitizeEnvironment(env, fn, instanceID, containerName, a.runtimeAPIAddr)

		spec := driver.CreateSpec{
			ImageRef:        imageRef,
			Name:            containerName,
			Env:             env,
			ExtraHosts:      []string{"host.docker.internal:host-gateway"},
			ReadOnlyRootFS:  true,
			CapDrop:         driver.DefaultCapDrop(),
			NoNewPrivileges: true,
			Mounts:          []driver.Mount{{Source: "", Target: "/tmp", ReadOnly: false}},
			Labels:          map[string]string{"lambdah.function": fn.Name},
		}

		containerID, err := a.drv.Create(ctx, spec)
		if err != nil {
			logging.Op().Warn("autoscaler create failed", "function", fn.Name, "error", err)
			continue
		}
		if err := a.drv.Start(ctx, containerID); err != nil {
			logging.Op().Warn("autoscaler start failed", "function", fn.Name, "container", containerID, "error", err)
			continue
		}

		a.pool.Add(key, containerID)
		if a.register != nil {
			a.register(key, containerID)
		}
		metrics.Global().AutoscaleCreates.WithLabelValues(key).Inc()
	}
}
