// Package driver defines the Container Driver collaborator interface
// (spec.md §6): create/start/stop/remove workers and emit lifecycle
// events. containerd.go provides the concrete containerd-backed
// implementation, grounded on the pack's other container-runtime
// example (cuemby-warren's pkg/runtime/containerd.go).
package driver

import (
	"context"
	"time"

	"github.com/lambdah/lambdah/internal/domain"
)

// Mount is a single bind mount, (src, dst, read_only) as spec.md §6
// requires bit-exact.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Ulimit is a single resource limit entry (e.g. nofile, nproc).
type Ulimit struct {
	Name string
	Soft int64
	Hard int64
}

// CreateSpec is the Container Driver's create() input, matching every
// field spec.md §6 names: image reference, name, environment pairs,
// extra host entries, read-only root FS flag, user id string, capability
// drop list (default ["ALL"]), no-new-privileges flag, mount list,
// ulimit entries, labels, and optional network name.
type CreateSpec struct {
	ImageRef        string
	Name            string
	Env             map[string]string
	ExtraHosts      []string // e.g. "host.docker.internal:host-gateway"
	ReadOnlyRootFS  bool
	User            string
	CapDrop         []string // default: []string{"ALL"}
	NoNewPrivileges bool
	Mounts          []Mount // at minimum /tmp writable
	Ulimits         []Ulimit
	Labels          map[string]string
	NetworkName     string
}

// DefaultCapDrop is the default capability drop list spec.md §6 names.
func DefaultCapDrop() []string { return []string{"ALL"} }

// Driver is the Container Driver collaborator interface. An out-of-scope
// image builder is assumed to have already produced ImageRef before
// Create is called; image building from source archives is explicitly
// out of scope (spec.md §1).
type Driver interface {
	Create(ctx context.Context, spec CreateSpec) (containerID string, err error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string, force bool) error
	InspectRunning(ctx context.Context, containerID string) (bool, error)

	// Events returns a channel of lifecycle events for all containers
	// this driver manages (spec.md §4.6). The channel is closed when ctx
	// is cancelled.
	Events(ctx context.Context) (<-chan domain.ContainerEvent, error)
}
