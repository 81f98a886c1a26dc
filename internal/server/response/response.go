// Package response provides the JSON shapes the relay's HTTP endpoints and
// subscriber connections reply with. HTTP endpoints wrap payloads in a data
// field and failures in an error field; websocket error frames carry only
// the error field.
package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/agentstation/banrelay/pkg/errors"
)

// Error codes.
const (
	CodeInvalidFilter      = "INVALID_FILTER"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
)

// Response represents the standardized HTTP response structure.
type Response struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
}

// Error represents an error with code, message, and optional details.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorFrame is the single text frame sent to a subscriber whose message
// was rejected.
type ErrorFrame struct {
	Error *Error `json:"error"`
}

// Success creates a successful response with data.
func Success(data any) Response {
	return Response{Data: data}
}

// Fail creates an error response.
func Fail(code, message, details string) Response {
	return Response{
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors are ignored as headers are already sent (best effort)
	_ = json.NewEncoder(w).Encode(resp)
}

// OK writes a successful response with 200 status.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Success(data))
}

// MethodNotAllowed writes a 405 error response.
func MethodNotAllowed(w http.ResponseWriter, method string) {
	JSON(w, http.StatusMethodNotAllowed, Fail(
		CodeMethodNotAllowed,
		"Method not allowed",
		"Method "+method+" is not supported for this endpoint",
	))
}

// RateLimited writes a 429 error response.
func RateLimited(w http.ResponseWriter, message string) {
	JSON(w, http.StatusTooManyRequests, Fail(
		CodeRateLimited,
		"Rate limit exceeded",
		message,
	))
}

// InternalError writes a 500 error response without exposing err.
func InternalError(w http.ResponseWriter, _ error) {
	JSON(w, http.StatusInternalServerError, Fail(
		CodeInternal,
		"Internal server error",
		"An unexpected error occurred",
	))
}

// ServiceUnavailable writes a 503 response. data describes what is not ready.
func ServiceUnavailable(w http.ResponseWriter, message string, data any) {
	resp := Fail(CodeServiceUnavailable, "Service unavailable", message)
	resp.Data = data
	JSON(w, http.StatusServiceUnavailable, resp)
}

// FilterRejected encodes the error frame for a rejected filter update.
// Validation errors report the offending field; anything else is reported
// generically.
func FilterRejected(err error) []byte {
	frame := ErrorFrame{Error: &Error{
		Code:    CodeInvalidFilter,
		Message: "Invalid filter update",
	}}

	var verr *errors.ValidationError
	if stderrors.As(err, &verr) {
		frame.Error.Message = verr.Message
		frame.Error.Details = verr.Field
	} else if err != nil {
		frame.Error.Details = err.Error()
	}

	// Marshal of a struct of strings cannot fail.
	data, _ := json.Marshal(frame)
	return data
}
