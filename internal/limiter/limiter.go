// Package limiter implements the global and per-function concurrency
// limiter (spec.md §4.3) as a pair of counting semaphores built on
// golang.org/x/sync/semaphore — the teacher already depends on
// golang.org/x/sync (errgroup, in internal/executor), and semaphore.Weighted
// is the natural extension of that same module for the blocking/non-blocking
// acquire split the spec calls for.
package limiter

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrOverload is returned by TryAcquire when no capacity is available
// without blocking (Acquire instead returns ctx's error). The Invoke
// handler maps this to HTTP 429 / TooManyRequestsException.
var ErrOverload = errors.New("limiter: concurrency limit reached")

// Token is a scoped acquisition. Release must be called on every exit
// path to return the permit (spec.md §3 Concurrency Token;
// §8 testable property "Concurrency release").
type Token struct {
	release func()
	once    sync.Once
}

// Release returns the permit. Safe to call more than once; only the first
// call has effect, so a deferred Release composed with an explicit early
// Release never double-frees the semaphore.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// Limiter holds the global semaphore and a lazily-created per-function
// semaphore for any function with a configured reserved concurrency
// (spec.md §4.3).
type Limiter struct {
	global *semaphore.Weighted

	mu        sync.Mutex
	perFunc   map[string]*semaphore.Weighted
	reserved  map[string]int64
}

// New creates a Limiter with the given global capacity (spec.md default:
// 256).
func New(maxGlobalConcurrency int64) *Limiter {
	if maxGlobalConcurrency <= 0 {
		maxGlobalConcurrency = 256
	}
	return &Limiter{
		global:   semaphore.NewWeighted(maxGlobalConcurrency),
		perFunc:  make(map[string]*semaphore.Weighted),
		reserved: make(map[string]int64),
	}
}

// SetReservedConcurrency configures (or clears, with n<=0) a dedicated
// semaphore for functionID, sized to n. Calling this replaces any prior
// semaphore for the function; in-flight tokens against the old semaphore
// continue to release correctly since each Token closes over its own
// semaphore reference.
func (l *Limiter) SetReservedConcurrency(functionID string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		delete(l.perFunc, functionID)
		delete(l.reserved, functionID)
		return
	}
	l.perFunc[functionID] = semaphore.NewWeighted(int64(n))
	l.reserved[functionID] = int64(n)
}

func (l *Limiter) semaphoreFor(functionID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sem, ok := l.perFunc[functionID]; ok {
		return sem
	}
	return l.global
}

// Acquire blocks until a permit is available (per-function if the
// function has reserved concurrency configured, else global) or ctx is
// cancelled.
func (l *Limiter) Acquire(ctx context.Context, functionID string) (*Token, error) {
	sem := l.semaphoreFor(functionID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Token{release: func() { sem.Release(1) }}, nil
}

// TryAcquire acquires a permit without blocking, returning ErrOverload
// when none is available — the zero-wait path the Invoke handler uses to
// surface HTTP 429 (spec.md §4.3, §7).
func (l *Limiter) TryAcquire(functionID string) (*Token, error) {
	sem := l.semaphoreFor(functionID)
	if !sem.TryAcquire(1) {
		return nil, ErrOverload
	}
	return &Token{release: func() { sem.Release(1) }}, nil
}
