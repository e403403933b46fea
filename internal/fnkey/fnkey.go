// Package fnkey derives the canonical identity of a worker class: the
// tuple (function name, runtime, version, env fingerprint) that two
// invocations must share to be served by the same warm container.
//
// The env fingerprint is a SHA-256 digest over the environment map after
// canonicalization (object keys sorted recursively; array order kept), so
// that two maps with the same key/value pairs in any insertion order
// produce the same key. This matches the teacher's code-hash-for-reuse
// pattern in domain.Function.CodeHashChanged, generalized from a file
// digest to a canonicalized-value digest.
package fnkey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
)

// LatestVersion is the sentinel used when a function key carries no
// explicit version.
const LatestVersion = "LATEST"

// ErrDegenerateKey is returned by New when the caller supplies only a
// function name with no runtime. The source this spec was distilled from
// carried two conflicting definitions of function key; this package
// normatively implements the full tuple and rejects the degenerate form.
var ErrDegenerateKey = errors.New("fnkey: degenerate key (runtime required)")

// Key is the canonical identity for a class of interchangeable workers.
type Key struct {
	FunctionName string
	Runtime      string
	Version      string
	EnvHash      string
}

// New builds a Key from raw fields, defaulting Version to LatestVersion
// and deriving EnvHash from env via Hash. Returns ErrDegenerateKey if
// runtime is empty, per the spec's Open Question resolution.
func New(functionName, runtime, version string, env map[string]string) (Key, error) {
	if runtime == "" {
		return Key{}, ErrDegenerateKey
	}
	if version == "" {
		version = LatestVersion
	}
	return Key{
		FunctionName: functionName,
		Runtime:      runtime,
		Version:      version,
		EnvHash:      Hash(env),
	}, nil
}

// WithHash builds a Key from an already-derived env hash, used by the
// Runtime API handler where the caller supplies eh= directly rather than
// a raw environment map (spec.md §4.1: derivation must be identical
// between control-plane enqueue and runtime-API dequeue).
func WithHash(functionName, runtime, version, envHash string) (Key, error) {
	if runtime == "" {
		return Key{}, ErrDegenerateKey
	}
	if version == "" {
		version = LatestVersion
	}
	return Key{FunctionName: functionName, Runtime: runtime, Version: version, EnvHash: envHash}, nil
}

// Hash derives the env_hash: the hex-encoded SHA-256 over the environment
// map canonicalized with recursively sorted object keys. A nil or empty
// map is treated as an empty object, so it always hashes identically.
func Hash(env map[string]string) string {
	canon := canonicalize(env)
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalize converts a map into a deterministically ordered structure
// (a slice of key/value pairs sorted by key) so that json.Marshal always
// produces identical bytes regardless of the map's iteration order. Go's
// encoding/json already sorts map[string]string keys when marshaling, but
// canonicalize makes that guarantee explicit and independent of encoding
// library behavior, matching the ties rule in spec.md §4.1.
func canonicalize(env map[string]string) []kv {
	if len(env) == 0 {
		return []kv{}
	}
	out := make([]kv, 0, len(env))
	for k, v := range env {
		out = append(out, kv{K: k, V: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].K < out[j].K })
	return out
}

type kv struct {
	K string `json:"k"`
	V string `json:"v"`
}

// String renders the key as its four fields joined by "|", in the order
// of the Runtime API's query parameters (spec.md §4.10): fn, rt, ver, eh.
func (k Key) String() string {
	return k.FunctionName + "|" + k.Runtime + "|" + k.Version + "|" + k.EnvHash
}
