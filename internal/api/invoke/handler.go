// Package invoke implements the user-facing Invocation API: POST
// /2015-03-31/functions/{name}/invocations (spec.md §4.9, §6), following
// the teacher's net/http ServeMux + PathValue handler style
// (internal/api/controlplane/secret_handlers.go).
package invoke

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/lambdah/lambdah/internal/apierr"
	"github.com/lambdah/lambdah/internal/fnkey"
	"github.com/lambdah/lambdah/internal/invqueue"
	"github.com/lambdah/lambdah/internal/limiter"
	"github.com/lambdah/lambdah/internal/logging"
	"github.com/lambdah/lambdah/internal/metrics"
	"github.com/lambdah/lambdah/internal/pending"
	"github.com/lambdah/lambdah/internal/registry"
	"github.com/lambdah/lambdah/internal/workitem"
)

// InvocationType is the X-Amz-Invocation-Type header value (spec.md §6).
type InvocationType string

const (
	RequestResponse InvocationType = "RequestResponse"
	Event           InvocationType = "Event"
	DryRun          InvocationType = "DryRun"
)

// Grace is added to the function timeout for the invoker's await cutoff
// (spec.md §4.9 step 7).
const Grace = 500 * time.Millisecond

// Handler serves the Invocation API.
type Handler struct {
	Registry registry.Registry
	Queues   *invqueue.Queues
	Pending  *pending.Registry
	Limiter  *limiter.Limiter
	Logger   *logging.Logger
	TailLog  *logging.TailStore
}

// RegisterRoutes wires this handler's endpoint into mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /2015-03-31/functions/{name}/invocations", h.Invoke)
}

// Invoke implements spec.md §4.9's synchronous invocation flow, plus the
// DryRun/Event variants from the same section.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := r.PathValue("name")
	qualifier := r.URL.Query().Get("Qualifier")

	invType := InvocationType(r.Header.Get("X-Amz-Invocation-Type"))
	if invType == "" {
		invType = RequestResponse
	}
	logType := workitem.LogTypeNone
	if r.Header.Get("X-Amz-Log-Type") == "Tail" {
		logType = workitem.LogTypeTail
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.WriteError(w, apierr.InvalidParameterValue, "failed to read request body")
		return
	}

	fn, key, ok := h.Registry.GetFunction(name, qualifier)
	if !ok {
		apierr.WriteError(w, apierr.FunctionNotFound, "function not found: "+name)
		return
	}

	env, err := h.Registry.ResolveEnv(r.Context(), fn)
	if err != nil {
		apierr.WriteError(w, apierr.InternalError, "failed to resolve environment: "+err.Error())
		return
	}
	key, err = fnkey.New(fn.Name, fn.Runtime, fn.Version, env)
	if err != nil {
		apierr.WriteError(w, apierr.InternalError, "failed to derive function key: "+err.Error())
		return
	}

	if invType == DryRun {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	token, err := h.acquireToken(r, fn.Name, invType)
	if err != nil {
		metrics.Global().ThrottledTotal.WithLabelValues(fn.Name).Inc()
		apierr.WriteError(w, apierr.TooManyRequests, "concurrency limit reached")
		return
	}
	defer token.Release()

	item := workitem.New(key, body, fn.TimeoutS, logType, r.Header.Get("X-Amz-Client-Context"), "")

	if invType == Event {
		h.Queues.Push(key.String(), item)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	waiter, err := h.Pending.Register(item.RequestID)
	if err != nil {
		apierr.WriteError(w, apierr.InternalError, "failed to register pending invocation")
		return
	}
	h.Queues.Push(key.String(), item)

	cutoff := time.Duration(fn.TimeoutS)*time.Second + Grace
	ctx, cancel := context.WithTimeout(r.Context(), cutoff)
	defer cancel()

	result, delivered := waiter.Await(ctx.Done())
	if !delivered {
		if h.Pending.FailIfWaiting(item.RequestID, pending.FunctionErrorUnhandled, nil) {
			body := apierr.TaskTimedOut(item.RequestID)
			apierr.WriteFunctionError(w, apierr.Unhandled, body)
			h.logInvocation(item, fn, start, false, "Unhandled", len(item.Payload), len(body.ErrorMessage))
			return
		}
		// Lost the race to a genuine Complete; drain the real result instead
		// of discarding it (spec.md §4.9 step 7's "reclaimed error" note,
		// applied symmetrically to the success path).
		if r, ok := waiter.TryRecv(); ok {
			result = r
			delivered = true
		}
	}
	if !delivered {
		apierr.WriteError(w, apierr.InternalError, "invocation result lost")
		return
	}

	h.renderResult(w, item, fn, result, start)
}

func (h *Handler) acquireToken(r *http.Request, functionName string, invType InvocationType) (*limiter.Token, error) {
	// Event invocations fire-and-forget: no durable queue backs them, so a
	// blocking acquire would hold the HTTP connection open for no reason.
	if invType == Event {
		return h.Limiter.TryAcquire(functionName)
	}
	return h.Limiter.Acquire(r.Context(), functionName)
}

func (h *Handler) renderResult(w http.ResponseWriter, item workitem.Item, fn registry.Function, result pending.Result, start time.Time) {
	if result.LogTail != "" && item.LogType == workitem.LogTypeTail {
		w.Header().Set("X-Amz-Log-Result", base64.StdEncoding.EncodeToString([]byte(result.LogTail)))
		h.TailLog.Put(item.RequestID, []byte(result.LogTail))
	}
	if result.ExecutedVersion != "" {
		w.Header().Set("X-Amz-Executed-Version", result.ExecutedVersion)
	}

	if result.OK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(result.Payload)
		h.logInvocation(item, fn, start, true, "", len(item.Payload), len(result.Payload))
		return
	}

	w.Header().Set("X-Amz-Function-Error", string(result.FunctionError))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Payload)
	h.logInvocation(item, fn, start, false, string(result.FunctionError), len(item.Payload), len(result.Payload))
}



func (h *Handler) logInvocation(item workitem.Item, fn registry.Function, start time.Time, success bool, functionError string, inputSize, outputSize int) {
	if h.Logger == nil {
		return
	}
	h.Logger.Log(&logging.RequestLog{
		Timestamp:     start.UTC(),
		RequestID:     item.RequestID,
		Function:      fn.Name,
		Runtime:       fn.Runtime,
		DurationMs:    time.Since(start).Milliseconds(),
		Success:       success,
		FunctionError: functionError,
		InputSize:     inputSize,
		OutputSize:    outputSize,
	})
	outcome := "success"
	if !success {
		outcome = "error"
	}
	metrics.Global().InvocationsTotal.WithLabelValues(fn.Name, outcome).Inc()
	metrics.Global().InvocationLatency.WithLabelValues(fn.Name).Observe(float64(time.Since(start).Milliseconds()))
}
