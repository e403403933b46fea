// Package invqueue implements the per-function FIFO work queues with a
// lost-wakeup-safe blocking dequeue (spec.md §4.4, the hardest subsystem
// in this system). It follows the same per-key sharding under a
// mutex-guarded top-level map that the teacher's warm pool (internal/pool in the source
// repo) uses for its function pools, generalized from VM slots to raw
// FIFO items and from a sync.Cond to a cancellable notify-one channel so
// that a worker's long-poll can be interrupted by connection close
// (context cancellation), which sync.Cond cannot express.
package invqueue

import (
	"context"
	"sync"

	"github.com/lambdah/lambdah/internal/workitem"
)

// record is the per-function-key FIFO plus its registered waiters. Pushes
// and pops against the same record are serialized by mu, which is the
// sole source of the strict FIFO-within-key ordering spec.md §5 requires.
type record struct {
	mu      sync.Mutex
	items   []workitem.Item
	waiters []chan struct{} // registered wait intents, oldest first
}

// Queues is the concurrent map from function key to its per-key record.
// It is a process-wide singleton shared by the Invoke handler (push) and
// the Runtime API's next-invocation handler (pop_or_wait).
type Queues struct {
	mu      sync.Mutex
	records map[string]*record
}

// New creates an empty Queues map.
func New() *Queues {
	return &Queues{records: make(map[string]*record)}
}

func (q *Queues) getOrCreate(key string) *record {
	q.mu.Lock()
	rec, ok := q.records[key]
	if !ok {
		rec = &record{}
		q.records[key] = rec
	}
	q.mu.Unlock()
	return rec
}

// Push appends a work item to the FIFO for key and wakes at most one
// waiter. The top-level map guard is released (getOrCreate already
// returns with it unlocked) before the per-record lock is taken, and the
// per-record lock is released before the wakeup channel is closed, so a
// woken waiter never contends with Push for the same lock it is about to
// use to re-check the queue.
func (q *Queues) Push(key string, item workitem.Item) {
	rec := q.getOrCreate(key)

	rec.mu.Lock()
	rec.items = append(rec.items, item)
	var wake chan struct{}
	if len(rec.waiters) > 0 {
		wake = rec.waiters[0]
		rec.waiters = rec.waiters[1:]
	}
	rec.mu.Unlock()

	if wake != nil {
		close(wake)
	}
}

// Depth reports the current FIFO length for key, used by the autoscaler
// (spec.md §4.7) and for metrics.
func (q *Queues) Depth(key string) int {
	rec := q.getOrCreate(key)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.items)
}

// PopOrWait blocks until an item is available for key, ctx is done, or
// (unbounded) forever otherwise — spec.md §4.10 calls this long-poll
// "indefinite". Returns ok=false only on ctx cancellation.
//
// The check-for-work and register-a-wait-intent steps happen inside a
// single critical section on the per-key record: this is what makes the
// protocol lost-wakeup-safe. Any Push that runs before this critical
// section is observed by the nonempty check; any Push that runs after it
// finds this waiter already registered and signals it. There is no window
// in which a Push can occur without either being seen directly or
// producing a signal this waiter is already subscribed to.
func (q *Queues) PopOrWait(ctx context.Context, key string) (workitem.Item, bool) {
	rec := q.getOrCreate(key)

	for {
		rec.mu.Lock()
		if len(rec.items) > 0 {
			item := rec.items[0]
			rec.items = rec.items[1:]
			rec.mu.Unlock()
			return item, true
		}
		wake := make(chan struct{})
		rec.waiters = append(rec.waiters, wake)
		rec.mu.Unlock()

		select {
		case <-wake:
			// Woken: loop back and re-check/re-pop. The signal itself
			// carries no item; the deque is the single source of truth.
			continue
		case <-ctx.Done():
			rec.dropWaiter(wake)
			return workitem.Item{}, false
		}
	}
}

// dropWaiter removes wake from the waiter list on cancellation. If it was
// already popped and closed by a concurrent Push (meaning this waiter
// "consumed" a wakeup it is now discarding), the signal is forwarded to
// the next registered waiter so the underlying work item — still sitting
// untouched in the deque — is not stranded with no one told to look for
// it (spec.md §5: cancelled waits "must not silently consume a wakeup
// without re-posting it").
func (rec *record) dropWaiter(wake chan struct{}) {
	rec.mu.Lock()
	for i, w := range rec.waiters {
		if w == wake {
			rec.waiters = append(rec.waiters[:i], rec.waiters[i+1:]...)
			rec.mu.Unlock()
			return
		}
	}
	// Not found: a Push already claimed and closed it concurrently.
	var next chan struct{}
	if len(rec.waiters) > 0 {
		next = rec.waiters[0]
		rec.waiters = rec.waiters[1:]
	}
	rec.mu.Unlock()
	if next != nil {
		close(next)
	}
}
