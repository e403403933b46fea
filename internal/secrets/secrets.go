package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// keySize is the AES-256 key length in bytes; NewCipher rejects anything
// else rather than silently truncating or padding.
const keySize = 32

// Cipher wraps an AES-256-GCM AEAD for encrypting/decrypting secret
// values at rest. A Store given a Cipher holds ciphertext; a Store with a
// nil Cipher holds plaintext.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher builds a Cipher from a hex-encoded 256-bit key.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm aead: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// NewCipherFromFile loads a hex-encoded master key from path, trimming
// trailing newlines the way a key dropped in by `echo` or a secret mount
// usually has.
func NewCipherFromFile(path string) (*Cipher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master key file: %w", err)
	}
	return NewCipher(strings.TrimSpace(string(data)))
}

// Encrypt seals plaintext, returning nonce || ciphertext || tag.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce || ciphertext || tag blob produced by Encrypt.
func (c *Cipher) Decrypt(sealed []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed secret shorter than nonce (%d bytes)", nonceSize)
	}

	nonce, body := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed secret: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random hex-encoded 256-bit key, for
// operators bootstrapping a new master key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("draw key material: %w", err)
	}
	return hex.EncodeToString(key), nil
}
