// Package imagebuilder is a thin stand-in for the image builder
// collaborator spec.md §4.7/§1 delegates to and explicitly puts out of
// scope: building a container image from a function's code archive. This
// dataplane only ever consumes an already-built image reference.
package imagebuilder

import (
	"context"
	"fmt"

	"github.com/lambdah/lambdah/internal/registry"
)

// PassThrough satisfies the autoscaler's ImageEnsurer collaborator by
// trusting that fn.ImageRef already names a pullable image.
type PassThrough struct{}

// EnsureImage returns fn's configured image reference unchanged.
func (PassThrough) EnsureImage(_ context.Context, fn registry.Function) (string, error) {
	if fn.ImageRef == "" {
		return "", fmt.Errorf("function %q has no image reference configured", fn.Name)
	}
	return fn.ImageRef, nil
}
