// Package apierr renders the error kinds spec.md §7 defines onto HTTP
// responses: status code, AWS-Lambda-style exception name, and the
// {errorMessage, errorType, stackTrace} body shape. Grounded on the
// teacher's api error-response helpers (internal/api/controlplane's
// handlers write a similar {error, message} envelope) generalized to the
// exact exception-name wire format this dataplane must be compatible with.
package apierr

import (
	"encoding/json"
	"net/http"
)

// Kind is one of the error kinds spec.md §7 enumerates.
type Kind string

const (
	FunctionNotFound       Kind = "FunctionNotFound"
	InvalidParameterValue  Kind = "InvalidParameterValue"
	TooManyRequests        Kind = "TooManyRequests"
	InternalError          Kind = "InternalError"
	FunctionExecutionError Kind = "FunctionExecutionError"
	Timeout                Kind = "Timeout"
	InitError              Kind = "InitError"
)

// exceptionName maps a Kind to the AWS-Lambda-style wire exception name
// used in the JSON body for the kinds that render as HTTP error statuses.
var exceptionName = map[Kind]string{
	FunctionNotFound:      "ResourceNotFoundException",
	InvalidParameterValue: "InvalidParameterValueException",
	TooManyRequests:       "TooManyRequestsException",
	InternalError:         "ServiceException",
}

// statusCode maps a Kind to its HTTP status per spec.md §7's table.
var statusCode = map[Kind]int{
	FunctionNotFound:      http.StatusNotFound,
	InvalidParameterValue: http.StatusBadRequest,
	TooManyRequests:       http.StatusTooManyRequests,
	InternalError:         http.StatusInternalServerError,
}

// Body is the wire shape for handler/init/timeout errors: spec.md §7
// is explicit that no extra fields are allowed.
type Body struct {
	ErrorMessage string   `json:"errorMessage"`
	ErrorType    string   `json:"errorType"`
	StackTrace   []string `json:"stackTrace,omitempty"`
}

// WriteError renders one of the four/five-hundred-class error kinds:
// status code + JSON body {errorMessage, errorType}. Used for FunctionNotFound,
// InvalidParameterValue, TooManyRequests, and InternalError.
func WriteError(w http.ResponseWriter, kind Kind, message string) {
	status, ok := statusCode[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	name := exceptionName[kind]
	if name == "" {
		name = "ServiceException"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-amzn-ErrorType", name)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{ErrorMessage: message, ErrorType: name})
}

// FunctionErrorHeader is the header value distinguishing handler-caught
// ("Handled") vs. uncaught ("Unhandled") function errors, reported on a
// 200 response per spec.md §7/§4.9.
type FunctionErrorHeader string

const (
	Handled   FunctionErrorHeader = "Handled"
	Unhandled FunctionErrorHeader = "Unhandled"
)

// WriteFunctionError renders a 200 response carrying X-Amz-Function-Error
// and the error body, used for FunctionExecutionError, Timeout, and
// InitError — all of which are successful-HTTP-status function outcomes
// from the caller's point of view.
func WriteFunctionError(w http.ResponseWriter, kind FunctionErrorHeader, body Body) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Amz-Function-Error", string(kind))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// TaskTimedOut builds the Body spec.md §7 requires for a timeout:
// "body mentions TaskTimedOut".
func TaskTimedOut(requestID string) Body {
	return Body{
		ErrorMessage: "Task timed out for request " + requestID,
		ErrorType:    "TaskTimedOut",
	}
}
