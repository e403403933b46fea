package fnkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash_InsertionOrderIrrelevant(t *testing.T) {
	env1 := map[string]string{}
	env1["A"] = "1"
	env1["B"] = "2"

	env2 := map[string]string{}
	env2["B"] = "2"
	env2["A"] = "1"

	require.Equal(t, Hash(env1), Hash(env2))
}

func TestNew_VersionDefaultsToLatest(t *testing.T) {
	k, err := New("hello", "nodejs18.x", "", map[string]string{"A": "1"})
	require.NoError(t, err)
	require.Equal(t, LatestVersion, k.Version)
}

func TestNew_EqualTuplesShareEnvHash(t *testing.T) {
	k1, err := New("hello", "nodejs18.x", "LATEST", map[string]string{"A": "1", "B": "2"})
	require.NoError(t, err)
	k2, err := New("hello", "nodejs18.x", "LATEST", map[string]string{"B": "2", "A": "1"})
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestNew_DegenerateKeyRejected(t *testing.T) {
	_, err := New("hello", "", "", nil)
	require.ErrorIs(t, err, ErrDegenerateKey)
}

func TestHash_EmptyEnvIsStable(t *testing.T) {
	require.Equal(t, Hash(nil), Hash(map[string]string{}))
}
