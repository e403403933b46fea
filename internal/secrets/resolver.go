package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// secretRefPrefix matches spec.md §4.9 step 2: environment values of
// shape SECRET_REF:<name> are replaced with stored secret values.
const secretRefPrefix = "SECRET_REF:"

// Resolver resolves SECRET_REF:name references to actual values
type Resolver struct {
	store *Store
}

// NewResolver creates a new secret resolver
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveEnvVars resolves all SECRET_REF: references in environment
// variables concurrently, one goroutine per entry, since each resolution
// is an independent store lookup (spec.md §4.9 step 2). Returns a new map
// with secrets resolved.
func (r *Resolver) ResolveEnvVars(ctx context.Context, envVars map[string]string) (map[string]string, error) {
	if len(envVars) == 0 {
		return envVars, nil
	}

	resolved := make(map[string]string, len(envVars))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for k, v := range envVars {
		k, v := k, v
		g.Go(func() error {
			resolvedValue, err := r.ResolveValue(gctx, v)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", k, err)
			}
			mu.Lock()
			resolved[k] = resolvedValue
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return resolved, nil
}

// ResolveValue resolves a single value that may be a SECRET_REF:name reference
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, secretRefPrefix) {
		return value, nil
	}

	secretName := strings.TrimPrefix(value, secretRefPrefix)
	if secretName == "" {
		return "", fmt.Errorf("empty secret name in reference")
	}

	secretValue, err := r.store.Get(ctx, secretName)
	if err != nil {
		return "", fmt.Errorf("get secret '%s': %w", secretName, err)
	}

	return string(secretValue), nil
}

// IsSecretRef checks if a value is a secret reference
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, secretRefPrefix)
}

// ExtractSecretName extracts the secret name from a reference
func ExtractSecretName(value string) string {
	if !strings.HasPrefix(value, secretRefPrefix) {
		return ""
	}
	return strings.TrimPrefix(value, secretRefPrefix)
}

// ListSecretRefs returns all secret names referenced in the environment variables
func ListSecretRefs(envVars map[string]string) []string {
	var refs []string
	for _, v := range envVars {
		if name := ExtractSecretName(v); name != "" {
			refs = append(refs, name)
		}
	}
	return refs
}
