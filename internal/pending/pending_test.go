package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	_, err := r.Register("req-1")
	require.NoError(t, err)
	_, err = r.Register("req-1")
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestCompleteDeliversOnce(t *testing.T) {
	r := New()
	w, err := r.Register("req-42")
	require.NoError(t, err)

	delivered := r.Complete("req-42", Result{OK: true, Payload: []byte("ok")})
	require.True(t, delivered)

	res, ok := w.Await(make(chan struct{}))
	require.True(t, ok)
	require.True(t, res.OK)
	require.Equal(t, []byte("ok"), res.Payload)

	// second completion for the same id is a no-op
	require.False(t, r.Complete("req-42", Result{OK: true, Payload: []byte("late")}))
}

func TestCompleteUnknownReturnsFalse(t *testing.T) {
	r := New()
	require.False(t, r.Complete("nope", Result{OK: true}))
}

func TestAwaitBlocksUntilComplete(t *testing.T) {
	r := New()
	w, err := r.Register("req-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Complete("req-1", Result{OK: true, Payload: []byte("req-1")})
	}()

	res, ok := w.Await(make(chan struct{}))
	require.True(t, ok)
	require.Equal(t, []byte("req-1"), res.Payload)
}

func TestCancelRemovesEntry(t *testing.T) {
	r := New()
	_, err := r.Register("req-7")
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
	r.Cancel("req-7")
	require.Equal(t, 0, r.Len())
	require.False(t, r.Complete("req-7", Result{OK: true}))
}

func TestDrainWithError(t *testing.T) {
	r := New()
	w1, _ := r.Register("a")
	w2, _ := r.Register("b")
	r.DrainWithError([]byte("shutting down"))

	res1, ok := w1.Await(make(chan struct{}))
	require.True(t, ok)
	require.False(t, res1.OK)

	res2, ok := w2.Await(make(chan struct{}))
	require.True(t, ok)
	require.False(t, res2.OK)
}

func TestTryRecvRaceAfterTimeout(t *testing.T) {
	r := New()
	w, _ := r.Register("req-x")
	r.Complete("req-x", Result{OK: true, Payload: []byte("winner")})

	// FailIfWaiting loses the race because Complete already fired.
	require.False(t, r.FailIfWaiting("req-x", FunctionErrorUnhandled, []byte("timeout")))

	res, ok := w.TryRecv()
	require.True(t, ok)
	require.Equal(t, []byte("winner"), res.Payload)
}
