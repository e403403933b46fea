package invoke

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lambdah/lambdah/internal/fnkey"
	"github.com/lambdah/lambdah/internal/invqueue"
	"github.com/lambdah/lambdah/internal/limiter"
	"github.com/lambdah/lambdah/internal/pending"
	"github.com/lambdah/lambdah/internal/registry"
)

func newTestHandler() (*Handler, *registry.MemRegistry) {
	reg := registry.NewMemRegistry(nil)
	reg.Register(registry.Function{Name: "hello", Runtime: "nodejs20", Version: "LATEST", TimeoutS: 3})

	return &Handler{
		Registry: reg,
		Queues:   invqueue.New(),
		Pending:  pending.New(),
		Limiter:  limiter.New(256),
	}, reg
}

func TestInvokeDryRunReturns204(t *testing.T) {
	h, _ := newTestHandler()

	req := httptest.NewRequest("POST", "/2015-03-31/functions/hello/invocations", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Amz-Invocation-Type", "DryRun")
	req.SetPathValue("name", "hello")
	rec := httptest.NewRecorder()

	h.Invoke(rec, req)

	require.Equal(t, 204, rec.Code)
}

func TestInvokeFunctionNotFound(t *testing.T) {
	h, _ := newTestHandler()

	req := httptest.NewRequest("POST", "/2015-03-31/functions/nope/invocations", bytes.NewReader(nil))
	req.SetPathValue("name", "nope")
	rec := httptest.NewRecorder()

	h.Invoke(rec, req)

	require.Equal(t, 404, rec.Code)
}

func TestInvokeEventReturns202(t *testing.T) {
	h, _ := newTestHandler()

	req := httptest.NewRequest("POST", "/2015-03-31/functions/hello/invocations", bytes.NewReader([]byte(`{"x":1}`)))
	req.Header.Set("X-Amz-Invocation-Type", "Event")
	req.SetPathValue("name", "hello")
	rec := httptest.NewRecorder()

	h.Invoke(rec, req)

	require.Equal(t, 202, rec.Code)
}

func TestInvokeRequestResponseDeliversWorkerResult(t *testing.T) {
	h, _ := newTestHandler()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, key := range onlyKey(h) {
			item, ok := h.Queues.PopOrWait(ctx, key)
			if !ok {
				return
			}
			h.Pending.Complete(item.RequestID, pending.Result{OK: true, Payload: []byte(`{"ok":true}`), ExecutedVersion: "1"})
			return
		}
	}()

	req := httptest.NewRequest("POST", "/2015-03-31/functions/hello/invocations", bytes.NewReader([]byte(`{"x":1}`)))
	req.SetPathValue("name", "hello")
	rec := httptest.NewRecorder()

	h.Invoke(rec, req)
	<-done

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Amz-Executed-Version"))
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestInvokeTimesOutWhenNoWorkerResponds(t *testing.T) {
	h, reg := newTestHandler()
	reg.Register(registry.Function{Name: "slow", Runtime: "nodejs20", Version: "LATEST", TimeoutS: 0})

	req := httptest.NewRequest("POST", "/2015-03-31/functions/slow/invocations", bytes.NewReader(nil))
	req.SetPathValue("name", "slow")
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Invoke(rec, req.WithContext(ctx))

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "Unhandled", rec.Header().Get("X-Amz-Function-Error"))
}

// onlyKey derives the function key of "hello" the same way the invoker
// does, so the fake worker goroutine above knows what to PopOrWait on
// without hardcoding the env-hash derivation.
func onlyKey(h *Handler) []string {
	fn, _, _ := h.Registry.GetFunction("hello", "")
	env, _ := h.Registry.ResolveEnv(context.Background(), fn)
	key, _ := fnkey.New(fn.Name, fn.Runtime, fn.Version, env)
	return []string{key.String()}
}
