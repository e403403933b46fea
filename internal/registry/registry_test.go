package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndGetFunction(t *testing.T) {
	r := NewMemRegistry(nil)
	_, err := r.Register(Function{Name: "hello", Runtime: "nodejs20", Version: "LATEST"})
	require.NoError(t, err)

	fn, key, ok := r.GetFunction("hello", "LATEST")
	require.True(t, ok)
	require.Equal(t, "hello", fn.Name)
	require.Equal(t, "LATEST", key.Version)
}

func TestGetFunctionByKeyRoundTrips(t *testing.T) {
	r := NewMemRegistry(nil)
	key, err := r.Register(Function{Name: "hello", Runtime: "python3.12", Version: "1", EnvVars: map[string]string{"A": "1"}})
	require.NoError(t, err)

	fn, ok := r.GetFunctionByKey(key.String())
	require.True(t, ok)
	require.Equal(t, "hello", fn.Name)
}

func TestSetReservedConcurrencyUpdatesAllVersions(t *testing.T) {
	r := NewMemRegistry(nil)
	r.Register(Function{Name: "hello", Runtime: "go1.x", Version: "1"})
	r.Register(Function{Name: "hello", Runtime: "go1.x", Version: "2"})

	r.SetReservedConcurrency("hello", 5)

	for _, ks := range r.byName["hello"] {
		require.Equal(t, 5, r.byKey[ks].ReservedConcurrency)
	}
}

func TestResolveEnvWithoutResolverPassesThrough(t *testing.T) {
	r := NewMemRegistry(nil)
	fn := Function{Name: "hello", EnvVars: map[string]string{"K": "v"}}
	env, err := r.ResolveEnv(context.Background(), fn)
	require.NoError(t, err)
	require.Equal(t, "v", env["K"])
}

func TestLoadManifestParsesFunctions(t *testing.T) {
	doc := strings.NewReader(`
functions:
  - name: hello
    runtime: nodejs20
    image: hello:latest
    env:
      FOO: bar
`)
	manifests, err := LoadManifest(doc)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	require.Equal(t, "hello", manifests[0].Name)

	fn := manifests[0].ToFunction()
	require.Equal(t, "LATEST", fn.Version)
	require.Equal(t, "bar", fn.EnvVars["FOO"])
}
