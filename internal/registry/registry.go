// Package registry is the Registry collaborator: it resolves a function
// key to its definition, resolves environment variables (secrets
// included), and tracks reserved concurrency overrides. Grounded on the
// teacher's store.GetFunctionByName lookup pattern (internal/executor),
// reduced here to a plain in-memory map since persistence is out of
// scope (spec.md §7 Non-goals).
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/lambdah/lambdah/internal/fnkey"
	"github.com/lambdah/lambdah/internal/secrets"
)

// Function is a function's control-plane definition.
type Function struct {
	ID                  string
	Name                string
	Runtime             string
	Handler             string
	ImageRef            string
	EnvVars             map[string]string
	TimeoutS            int
	MemoryMB            int
	ReservedConcurrency int // 0 = unreserved, shares the global pool
	Version             string
}

// ErrNotFound is returned when a function key has no registered function.
var ErrNotFound = fmt.Errorf("registry: function not found")

// Registry is the collaborator interface consumed by the Invoker Handler
// and the Autoscaler.
type Registry interface {
	GetFunction(name, version string) (Function, fnkey.Key, bool)
	GetFunctionByKey(key string) (Function, bool)
	ResolveEnv(ctx context.Context, fn Function) (map[string]string, error)
	SetReservedConcurrency(functionName string, n int)
}

// MemRegistry is an in-memory Registry, keyed by the full Function Key
// string (spec.md §3's canonical (name, runtime, version, env_hash)
// tuple), populated from function manifests at startup.
type MemRegistry struct {
	mu       sync.RWMutex
	byKey    map[string]Function
	byName   map[string][]string // function name -> keys sharing that name, newest-registered last
	resolver *secrets.Resolver
}

// NewMemRegistry builds an empty registry using resolver to expand
// SECRET_REF values during ResolveEnv.
func NewMemRegistry(resolver *secrets.Resolver) *MemRegistry {
	return &MemRegistry{
		byKey:    make(map[string]Function),
		byName:   make(map[string][]string),
		resolver: resolver,
	}
}

// Register adds or replaces a function definition, computing its
// Function Key from (name, runtime, version, env).
func (r *MemRegistry) Register(fn Function) (fnkey.Key, error) {
	key, err := fnkey.New(fn.Name, fn.Runtime, fn.Version, fn.EnvVars)
	if err != nil {
		return fnkey.Key{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ks := key.String()
	r.byKey[ks] = fn
	r.byName[fn.Name] = append(r.byName[fn.Name], ks)
	return key, nil
}

// GetFunction resolves a function by name and optional version qualifier
// (empty version matches any, preferring the most recently registered).
// The runtime is intrinsic to the stored function, not a caller input —
// the Invocation API (spec.md §6) only ever supplies name + qualifier.
func (r *MemRegistry) GetFunction(name, version string) (Function, fnkey.Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.byName[name]
	for i := len(keys) - 1; i >= 0; i-- {
		fn := r.byKey[keys[i]]
		if version == "" || fn.Version == version {
			realKey, _ := fnkey.New(fn.Name, fn.Runtime, fn.Version, fn.EnvVars)
			return fn, realKey, true
		}
	}
	return Function{}, fnkey.Key{}, false
}

func (r *MemRegistry) GetFunctionByKey(key string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byKey[key]
	return fn, ok
}

// ResolveEnv expands SECRET_REF: values in fn's environment.
func (r *MemRegistry) ResolveEnv(ctx context.Context, fn Function) (map[string]string, error) {
	if r.resolver == nil {
		out := make(map[string]string, len(fn.EnvVars))
		for k, v := range fn.EnvVars {
			out[k] = v
		}
		return out, nil
	}
	return r.resolver.ResolveEnvVars(ctx, fn.EnvVars)
}

// SetReservedConcurrency updates every registered version of functionName
// in place; callers are expected to also call Limiter.SetReservedConcurrency.
func (r *MemRegistry) SetReservedConcurrency(functionName string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ks := range r.byName[functionName] {
		fn := r.byKey[ks]
		fn.ReservedConcurrency = n
		r.byKey[ks] = fn
	}
}
