// Package workitem defines the immutable invocation descriptor that flows
// from the Invoke handler, through a per-function queue, to a worker.
package workitem

import (
	"time"

	"github.com/google/uuid"
	"github.com/lambdah/lambdah/internal/fnkey"
)

// LogType selects whether the invoker requests the base64 log tail in the
// response (spec.md §3, §6).
type LogType string

const (
	LogTypeNone LogType = "None"
	LogTypeTail LogType = "Tail"
)

// Item is an immutable invocation descriptor. Once constructed it is never
// mutated; its lifetime ends when a worker dequeues it.
type Item struct {
	RequestID   string
	Key         fnkey.Key
	Payload     []byte
	DeadlineMs  int64
	LogType     LogType
	ClientCtx   string
	CognitoID   string
	EnqueuedAt  time.Time
}

// New constructs a Work Item with a fresh UUIDv4 request id and a deadline
// of now + timeoutS seconds, per spec.md §4.9 step 4.
func New(key fnkey.Key, payload []byte, timeoutS int, logType LogType, clientCtx, cognitoID string) Item {
	now := time.Now()
	return Item{
		RequestID:  uuid.NewString(),
		Key:        key,
		Payload:    payload,
		DeadlineMs: now.Add(time.Duration(timeoutS)*time.Second).UnixMilli(),
		LogType:    logType,
		ClientCtx:  clientCtx,
		CognitoID:  cognitoID,
		EnqueuedAt: now,
	}
}
