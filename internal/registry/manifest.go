package registry

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FunctionManifest is the YAML shape a function definition file takes,
// following the teacher's spec.FunctionSpec layout (internal/spec/function.go)
// trimmed to the fields this dataplane needs: no code/build fields, since
// image building is delegated to an out-of-scope collaborator (spec.md §1).
type FunctionManifest struct {
	Name                string            `yaml:"name"`
	Runtime             string            `yaml:"runtime"`
	Handler             string            `yaml:"handler,omitempty"`
	Image               string            `yaml:"image"`
	Memory              int               `yaml:"memory,omitempty"`
	Timeout             int               `yaml:"timeout,omitempty"`
	Version             string            `yaml:"version,omitempty"`
	ReservedConcurrency int               `yaml:"reservedConcurrency,omitempty"`
	Env                 map[string]string `yaml:"env,omitempty"`
}

// ManifestFile is the top-level document: one or more function manifests.
type ManifestFile struct {
	Functions []FunctionManifest `yaml:"functions"`
}

// LoadManifestFile parses path and returns every function manifest in it.
func LoadManifestFile(path string) ([]FunctionManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()
	return LoadManifest(f)
}

// LoadManifest decodes a manifest document from r.
func LoadManifest(r io.Reader) ([]FunctionManifest, error) {
	var doc ManifestFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return doc.Functions, nil
}

// ToFunction converts a manifest entry to a registry Function.
func (m FunctionManifest) ToFunction() Function {
	version := m.Version
	if version == "" {
		version = "LATEST"
	}
	return Function{
		Name:                m.Name,
		Runtime:             m.Runtime,
		Handler:             m.Handler,
		ImageRef:            m.Image,
		EnvVars:             m.Env,
		TimeoutS:            m.Timeout,
		MemoryMB:            m.Memory,
		ReservedConcurrency: m.ReservedConcurrency,
		Version:             version,
	}
}
