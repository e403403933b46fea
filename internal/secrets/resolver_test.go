package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveEnvVars(t *testing.T) {
	store := NewStore(nil)
	require.NoError(t, store.Set("db-password", []byte("hunter2")))

	r := NewResolver(store)
	resolved, err := r.ResolveEnvVars(context.Background(), map[string]string{
		"DB_PASSWORD": "SECRET_REF:db-password",
		"DB_HOST":     "localhost",
	})
	require.NoError(t, err)
	require.Equal(t, "hunter2", resolved["DB_PASSWORD"])
	require.Equal(t, "localhost", resolved["DB_HOST"])
}

func TestResolveValueMissingSecret(t *testing.T) {
	store := NewStore(nil)
	r := NewResolver(store)
	_, err := r.ResolveValue(context.Background(), "SECRET_REF:missing")
	require.Error(t, err)
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	cipher, err := NewCipher(key)
	require.NoError(t, err)

	store := NewStore(cipher)
	require.NoError(t, store.Set("api-key", []byte("top-secret")))

	val, err := store.Get(context.Background(), "api-key")
	require.NoError(t, err)
	require.Equal(t, "top-secret", string(val))
}
