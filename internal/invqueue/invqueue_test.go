package invqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lambdah/lambdah/internal/workitem"
	"github.com/stretchr/testify/require"
)

func item(id string) workitem.Item {
	return workitem.Item{RequestID: id}
}

func TestFIFOWithinKey(t *testing.T) {
	q := New()
	q.Push("k", item("r1"))
	q.Push("k", item("r2"))
	q.Push("k", item("r3"))

	ctx := context.Background()
	for _, want := range []string{"r1", "r2", "r3"} {
		got, ok := q.PopOrWait(ctx, "k")
		require.True(t, ok)
		require.Equal(t, want, got.RequestID)
	}
}

func TestDispatcherFanOut(t *testing.T) {
	q := New()
	q.Push("k", item("S1"))
	q.Push("k", item("S2"))

	ctx := context.Background()
	got1, ok := q.PopOrWait(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "S1", got1.RequestID)

	got2, ok := q.PopOrWait(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "S2", got2.RequestID)
}

func TestBlockingPopThenPush(t *testing.T) {
	q := New()
	ctx := context.Background()

	resultCh := make(chan workitem.Item, 1)
	go func() {
		got, ok := q.PopOrWait(ctx, "k")
		require.True(t, ok)
		resultCh <- got
	}()

	time.Sleep(50 * time.Millisecond)
	q.Push("k", item("req-1"))

	select {
	case got := <-resultCh:
		require.Equal(t, "req-1", got.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not resolve within 2s")
	}
}

func TestNoLostWakeups_NWaitersNPushes(t *testing.T) {
	const n = 20
	q := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := q.PopOrWait(ctx, "k")
			require.True(t, ok)
			results <- got.RequestID
		}()
	}

	// Give the waiters a chance to register before pushing.
	time.Sleep(50 * time.Millisecond)

	pushed := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := time.Now().Format("150405.000000") + string(rune('a'+i))
		pushed[id] = struct{}{}
		q.Push("k", item(id))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all waiters resolved")
	}
	close(results)

	delivered := make(map[string]struct{}, n)
	for id := range results {
		delivered[id] = struct{}{}
	}
	require.Equal(t, pushed, delivered)
}

func TestCancelDropsWaiterWithoutLosingSignal(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	waiting := make(chan struct{})
	resultCh := make(chan bool, 1)
	go func() {
		close(waiting)
		_, ok := q.PopOrWait(ctx, "k")
		resultCh <- ok
	}()
	<-waiting
	time.Sleep(20 * time.Millisecond) // let it register its wait intent
	cancel()

	select {
	case ok := <-resultCh:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("cancelled pop did not return")
	}

	// The queue was empty while the waiter was registered; a push followed
	// by a fresh pop still delivers the item, showing the cancelled waiter
	// didn't leave the record in a broken state.
	q.Push("k", item("after-cancel"))
	got, ok := q.PopOrWait(context.Background(), "k")
	require.True(t, ok)
	require.Equal(t, "after-cancel", got.RequestID)
}

func TestDepth(t *testing.T) {
	q := New()
	require.Equal(t, 0, q.Depth("k"))
	q.Push("k", item("a"))
	q.Push("k", item("b"))
	require.Equal(t, 2, q.Depth("k"))
}
