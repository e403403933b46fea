package driver

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	apievents "github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/events"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/typeurl/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/lambdah/lambdah/internal/domain"
	"github.com/lambdah/lambdah/internal/logging"
)

// DefaultNamespace is the containerd namespace workers are created in,
// mirroring cuemby-warren's pkg/runtime/containerd.go convention of a
// single fixed namespace for this system's containers.
const DefaultNamespace = "lambdah"

// ContainerdDriver implements Driver against a containerd daemon, the
// way cuemby-warren's ContainerdRuntime does: a single long-lived client,
// namespaced operations, OCI spec options built from the caller's
// CreateSpec, and containerd's own task lifecycle (NewTask/Start/Kill/Wait)
// for start/stop.
type ContainerdDriver struct {
	client    *containerd.Client
	namespace string

	mu    sync.Mutex
	tasks map[string]containerd.Task // containerID -> running task, for Stop/Remove/InspectRunning
}

// NewContainerdDriver connects to the containerd daemon at socketPath.
func NewContainerdDriver(socketPath, namespace string) (*ContainerdDriver, error) {
	if socketPath == "" {
		socketPath = "/run/containerd/containerd.sock"
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &ContainerdDriver{
		client:    client,
		namespace: namespace,
		tasks:     make(map[string]containerd.Task),
	}, nil
}

func (d *ContainerdDriver) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, d.namespace)
}

// Close releases the containerd client connection.
func (d *ContainerdDriver) Close() error {
	return d.client.Close()
}

// Create pulls (if needed) the image, builds an OCI spec from spec, and
// creates a containerd container + task. The task is not started here;
// Start does that. spec.md §6's bit-exact fields map onto oci.SpecOpts.
func (d *ContainerdDriver) Create(ctx context.Context, spec CreateSpec) (string, error) {
	ctx = d.ctx(ctx)

	image, err := d.client.GetImage(ctx, spec.ImageRef)
	if err != nil {
		image, err = d.client.Pull(ctx, spec.ImageRef, containerd.WithPullUnpack)
		if err != nil {
			return "", fmt.Errorf("pull image %s: %w", spec.ImageRef, err)
		}
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	capDrop := spec.CapDrop
	if len(capDrop) == 0 {
		capDrop = DefaultCapDrop()
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithCapabilities(nil), // cleared; explicit drop list applied below
	}
	if spec.ReadOnlyRootFS {
		opts = append(opts, oci.WithRootFSReadonly())
	}
	if spec.User != "" {
		opts = append(opts, oci.WithUser(spec.User))
	}
	if spec.NoNewPrivileges {
		opts = append(opts, oci.WithNoNewPrivileges)
	}
	opts = append(opts, withDroppedCapabilities(capDrop))
	if len(spec.Mounts) > 0 {
		opts = append(opts, withMounts(spec.Mounts))
	}
	if len(spec.Ulimits) > 0 {
		opts = append(opts, withUlimits(spec.Ulimits))
	}
	if len(spec.ExtraHosts) > 0 {
		opts = append(opts, withExtraHosts(spec.ExtraHosts))
	}

	newContainerOpts := []containerd.NewContainerOpts{
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	}
	if len(spec.Labels) > 0 {
		newContainerOpts = append(newContainerOpts, containerd.WithContainerLabels(spec.Labels))
	}

	c, err := d.client.NewContainer(ctx, spec.Name, newContainerOpts...)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	task, err := c.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	d.mu.Lock()
	d.tasks[c.ID()] = task
	d.mu.Unlock()

	return c.ID(), nil
}

func (d *ContainerdDriver) Start(ctx context.Context, containerID string) error {
	ctx = d.ctx(ctx)
	task, err := d.taskFor(ctx, containerID)
	if err != nil {
		return err
	}
	return task.Start(ctx)
}

// Stop sends SIGTERM and waits up to grace for the task to exit, matching
// spec.md §9's normative resolution "stop(id, grace=2s)".
func (d *ContainerdDriver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	ctx = d.ctx(ctx)
	task, err := d.taskFor(ctx, containerID)
	if err != nil {
		return err
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait task %s: %w", containerID, err)
	}
	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("kill (term) task %s: %w", containerID, err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("kill (sigkill) task %s: %w", containerID, err)
		}
	}
	return nil
}

// Remove deletes the task and the container, force-killing first if
// still running.
func (d *ContainerdDriver) Remove(ctx context.Context, containerID string, force bool) error {
	ctx = d.ctx(ctx)
	d.mu.Lock()
	task, ok := d.tasks[containerID]
	delete(d.tasks, containerID)
	d.mu.Unlock()

	if ok && task != nil {
		if force {
			_ = task.Kill(ctx, syscall.SIGKILL)
		}
		if _, err := task.Delete(ctx); err != nil {
			logging.Op().Warn("delete task failed", "container", containerID, "error", err)
		}
	}

	c, err := d.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}
	return c.Delete(ctx, containerd.WithSnapshotCleanup)
}

func (d *ContainerdDriver) InspectRunning(ctx context.Context, containerID string) (bool, error) {
	ctx = d.ctx(ctx)
	task, err := d.taskFor(ctx, containerID)
	if err != nil {
		return false, err
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Status == containerd.Running, nil
}

func (d *ContainerdDriver) taskFor(ctx context.Context, containerID string) (containerd.Task, error) {
	d.mu.Lock()
	task, ok := d.tasks[containerID]
	d.mu.Unlock()
	if ok {
		return task, nil
	}
	c, err := d.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("load container %s: %w", containerID, err)
	}
	task, err = c.Task(ctx, cio.Load)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", containerID, err)
	}
	d.mu.Lock()
	d.tasks[containerID] = task
	d.mu.Unlock()
	return task, nil
}

// Events subscribes to the containerd event bus and translates task
// lifecycle events into the domain.ContainerEvent variants the Lifecycle
// Monitor understands (spec.md §4.6).
func (d *ContainerdDriver) Events(ctx context.Context) (<-chan domain.ContainerEvent, error) {
	ctx = d.ctx(ctx)
	envelopeCh, errCh := d.client.Subscribe(ctx,
		`topic=="/tasks/start"`,
		`topic=="/tasks/exit"`,
		`topic=="/tasks/delete"`,
		`topic=="/containers/create"`,
		`topic=="/containers/delete"`,
	)
	out := make(chan domain.ContainerEvent, 64)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errCh:
				if err != nil {
					logging.Op().Warn("containerd event stream error", "error", err)
				}
				return
			case env, ok := <-envelopeCh:
				if !ok {
					return
				}
				if ev, ok := translateEnvelope(env); ok {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func withDroppedCapabilities(drop []string) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
		if s.Process == nil || s.Process.Capabilities == nil {
			return nil
		}
		remove := func(caps []string) []string {
			kept := caps[:0]
			for _, c := range caps {
				dropped := false
				for _, d := range drop {
					if d == "ALL" || d == c {
						dropped = true
						break
					}
				}
				if !dropped {
					kept = append(kept, c)
				}
			}
			return kept
		}
		cp := s.Process.Capabilities
		cp.Bounding = remove(cp.Bounding)
		cp.Effective = remove(cp.Effective)
		cp.Permitted = remove(cp.Permitted)
		cp.Inheritable = remove(cp.Inheritable)
		cp.Ambient = remove(cp.Ambient)
		return nil
	}
}

func withMounts(mounts []Mount) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
		for _, m := range mounts {
			opts := []string{"bind"}
			if m.ReadOnly {
				opts = append(opts, "ro")
			} else {
				opts = append(opts, "rw")
			}
			s.Mounts = append(s.Mounts, specs.Mount{
				Destination: m.Target,
				Source:      m.Source,
				Type:        "bind",
				Options:     opts,
			})
		}
		return nil
	}
}

func withUlimits(ulimits []Ulimit) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
		if s.Process == nil {
			return nil
		}
		for _, u := range ulimits {
			s.Process.Rlimits = append(s.Process.Rlimits, specs.POSIXRlimit{
				Type: "RLIMIT_" + u.Name,
				Soft: uint64(u.Soft),
				Hard: uint64(u.Hard),
			})
		}
		return nil
	}
}

// withExtraHosts records host.docker.internal-style entries (spec.md §6)
// as a comma-joined "lambdah.extra-hosts" annotation on the OCI spec. It
// does not write or mount an /etc/hosts file, so the entries do not by
// themselves make those host names resolve inside the container.
func withExtraHosts(hosts []string) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
		if s.Annotations == nil {
			s.Annotations = map[string]string{}
		}
		s.Annotations["lambdah.extra-hosts"] = joinHosts(hosts)
		return nil
	}
}

func joinHosts(hosts []string) string {
	out := ""
	for i, h := range hosts {
		if i > 0 {
			out += ","
		}
		out += h
	}
	return out
}

// translateEnvelope decodes a containerd event envelope and maps it onto
// the spec.md §4.6 lifecycle kinds the Lifecycle Monitor consumes. Envelopes
// this driver didn't subscribe to (or can't decode) are ignored.
func translateEnvelope(env *events.Envelope) (domain.ContainerEvent, bool) {
	payload, err := typeurl.UnmarshalAny(env.Event)
	if err != nil {
		logging.Op().Warn("decode containerd event", "topic", env.Topic, "error", err)
		return domain.ContainerEvent{}, false
	}

	switch e := payload.(type) {
	case *apievents.ContainerCreate:
		return domain.ContainerEvent{Kind: domain.EventCreate, ContainerID: e.ID}, true
	case *apievents.TaskStart:
		return domain.ContainerEvent{Kind: domain.EventStart, ContainerID: e.ContainerID}, true
	case *apievents.TaskExit:
		exitCode := int(e.ExitStatus)
		kind := domain.EventDie
		if e.ExitStatus == uint32(137) {
			kind = domain.EventKill
		}
		return domain.ContainerEvent{Kind: kind, ContainerID: e.ContainerID, ExitCode: &exitCode}, true
	case *apievents.TaskDelete:
		return domain.ContainerEvent{Kind: domain.EventRemove, ContainerID: e.ContainerID}, true
	case *apievents.ContainerDelete:
		return domain.ContainerEvent{Kind: domain.EventRemove, ContainerID: e.ID}, true
	default:
		return domain.ContainerEvent{}, false
	}
}

// isNotFound reports whether err indicates a missing containerd object.
func isNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}
