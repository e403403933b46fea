package secrets

import (
	"context"
	"fmt"
	"sync"
)

// Store holds secret values in memory, keyed by name, encrypted when it
// was created with a non-nil Cipher. The
// teacher's equivalent (internal/secrets/store.go in the source repo)
// persists to Redis; this dataplane has no distributed-state requirement
// (spec.md §1 Non-goals exclude distributed operation), so the same
// encrypt-at-rest idiom is kept but backed by a guarded map instead.
type Store struct {
	mu     sync.RWMutex
	cipher *Cipher
	values map[string][]byte // name -> ciphertext
}

// NewStore creates a Store. cipher may be nil, in which case values are
// held in plaintext (suitable for local/dev use without a master key).
func NewStore(cipher *Cipher) *Store {
	return &Store{cipher: cipher, values: make(map[string][]byte)}
}

// Set encrypts (if a cipher is configured) and stores a secret value.
func (s *Store) Set(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cipher == nil {
		s.values[name] = append([]byte(nil), value...)
		return nil
	}
	enc, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret %q: %w", name, err)
	}
	s.values[name] = enc
	return nil
}

// Get retrieves and decrypts a secret value.
func (s *Store) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	raw, ok := s.values[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("secret not found: %s", name)
	}
	if s.cipher == nil {
		return raw, nil
	}
	plain, err := s.cipher.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret %q: %w", name, err)
	}
	return plain, nil
}
