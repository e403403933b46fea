// Package runtimeapi implements the worker-facing Runtime API (spec.md
// §4.10, §6): long-poll next invocation, POST response, POST error.
// Routing follows the teacher's net/http ServeMux + PathValue idiom.
package runtimeapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/lambdah/lambdah/internal/apierr"
	"github.com/lambdah/lambdah/internal/fnkey"
	"github.com/lambdah/lambdah/internal/invqueue"
	"github.com/lambdah/lambdah/internal/logging"
	"github.com/lambdah/lambdah/internal/pending"
	"github.com/lambdah/lambdah/internal/pool"
)

// BasePath is the Runtime API's fixed URL prefix, matching the real
// Lambda Runtime API version this dataplane is wire-compatible with.
const BasePath = "/2018-06-01/runtime/invocation"

// dispatch records which container a given request id was handed to, so
// Response/Error can flip that exact container back to WarmIdle without
// the worker needing to resubmit its function key.
type dispatch struct {
	functionKey, containerID string
}

// Handler serves the three Runtime API endpoints. Pool is optional: a nil
// Pool (as in tests that don't care about container state) disables the
// Busy/idle bookkeeping below without otherwise changing behavior.
type Handler struct {
	Queues  *invqueue.Queues
	Pending *pending.Registry
	Pool    *pool.Pool

	mu       sync.Mutex
	inFlight map[string]dispatch
}

// trackDispatch remembers which container a request id was handed to.
func (h *Handler) trackDispatch(requestID, functionKey, containerID string) {
	h.mu.Lock()
	if h.inFlight == nil {
		h.inFlight = make(map[string]dispatch)
	}
	h.inFlight[requestID] = dispatch{functionKey: functionKey, containerID: containerID}
	h.mu.Unlock()
}

// releaseDispatch forgets requestID and, if it names a container, flips
// that container Busy -> WarmIdle (spec.md §3/§4.5). Called once a
// worker's response or error completes the invocation, regardless of
// whether an invoker was still waiting on it.
func (h *Handler) releaseDispatch(requestID string) {
	h.mu.Lock()
	d, ok := h.inFlight[requestID]
	if ok {
		delete(h.inFlight, requestID)
	}
	h.mu.Unlock()

	if ok && d.containerID != "" && h.Pool != nil {
		h.Pool.ReturnToIdle(d.functionKey, d.containerID)
	}
}

// RegisterRoutes wires all three Runtime API endpoints into mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+BasePath+"/next", h.Next)
	mux.HandleFunc("POST "+BasePath+"/{request_id}/response", h.Response)
	mux.HandleFunc("POST "+BasePath+"/{request_id}/error", h.Error)
}

type nextResponse struct {
	RequestID  string `json:"requestId"`
	DeadlineMs int64  `json:"deadlineMs"`
	Event      any    `json:"event"`
}

// Next implements GET .../next: derive the function key from query
// parameters and long-poll pop_or_wait (spec.md §4.10). The request's
// own context is used as the cancellation signal, so a worker closing
// its connection cancels the wait (spec.md §5's cancellation policy).
//
// A worker identifies its own container via the cid query parameter,
// sourced from its LAMBDAH_CONTAINER_ID environment variable. On a
// successful dequeue that container is flipped WarmIdle -> Busy
// (spec.md §3/§4.5): it is no longer eligible for the Idle Watchdog to
// stop while it is executing the delivered invocation.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := fnkey.WithHash(q.Get("fn"), q.Get("rt"), q.Get("ver"), q.Get("eh"))
	if err != nil {
		apierr.WriteError(w, apierr.InvalidParameterValue, "invalid function key query parameters: "+err.Error())
		return
	}
	containerID := q.Get("cid")

	item, ok := h.Queues.PopOrWait(r.Context(), key.String())
	if !ok {
		// Worker disconnected or server is shutting down; nothing to report.
		return
	}

	if containerID != "" && h.Pool != nil {
		if !h.Pool.MarkBusyByContainerID(key.String(), containerID) {
			logging.Op().Warn("runtime api next: container not WarmIdle",
				"function_key", key.String(), "container", containerID)
		}
	}
	h.trackDispatch(item.RequestID, key.String(), containerID)

	var event any
	if len(item.Payload) > 0 {
		_ = json.Unmarshal(item.Payload, &event) // event stays nil (JSON null) if not decodable, per spec.md §4.10
	}

	w.Header().Set("Lambda-Runtime-Aws-Request-Id", item.RequestID)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(nextResponse{
		RequestID:  item.RequestID,
		DeadlineMs: item.DeadlineMs,
		Event:      event,
	})
}

// Response implements POST .../{request_id}/response: the raw body is
// the result payload; X-Amz-Executed-Version and X-Amz-Log-Result
// headers populate the delivered Result.
func (h *Handler) Response(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.WriteError(w, apierr.InvalidParameterValue, "failed to read response body")
		return
	}

	logTail := ""
	if encoded := r.Header.Get("X-Amz-Log-Result"); encoded != "" {
		if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			logTail = string(decoded)
		}
	}

	delivered := h.Pending.Complete(requestID, pending.Result{
		OK:              true,
		Payload:         payload,
		LogTail:         logTail,
		ExecutedVersion: r.Header.Get("X-Amz-Executed-Version"),
	})
	h.releaseDispatch(requestID)
	if !delivered {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Error implements POST .../{request_id}/error: X-Amz-Function-Error
// (default "Unhandled") sets the kind; body is the error shape. Same
// completion semantics as Response.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.WriteError(w, apierr.InvalidParameterValue, "failed to read error body")
		return
	}

	kind := pending.FunctionErrorUnhandled
	if r.Header.Get("X-Amz-Function-Error") == string(apierr.Handled) {
		kind = pending.FunctionErrorHandled
	}

	delivered := h.Pending.Complete(requestID, pending.Result{
		OK:            false,
		Payload:       payload,
		FunctionError: kind,
	})
	h.releaseDispatch(requestID)
	if !delivered {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
