package apierr

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, FunctionNotFound, "no such function")

	require.Equal(t, 404, rec.Code)
	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ResourceNotFoundException", body.ErrorType)
	require.Equal(t, "no such function", body.ErrorMessage)
}

func TestWriteErrorTooManyRequests(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, TooManyRequests, "limit exceeded")
	require.Equal(t, 429, rec.Code)
}

func TestWriteFunctionErrorIsAlways200(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteFunctionError(rec, Unhandled, TaskTimedOut("req-1"))

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "Unhandled", rec.Header().Get("X-Amz-Function-Error"))

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "TaskTimedOut", body.ErrorType)
}
