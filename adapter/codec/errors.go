package codec

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in error envelopes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeNotFound       = "NOT_FOUND"
	CodeExecution      = "EXECUTION_ERROR"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL_ERROR"
)

// Error is a protocol-level error with a code clients can branch on.
type Error struct {
	Code    string
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("protocol error [%s]: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("protocol error [%s]: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a protocol error.
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// WrapError creates a protocol error that unwraps to cause.
func WrapError(code string, cause error) *Error {
	return &Error{Code: code, Message: cause.Error(), Cause: cause}
}

// AsError returns err as a protocol error. Errors that are not already
// protocol errors become INTERNAL_ERROR.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return WrapError(CodeInternal, err)
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidRequest, CodeInvalidMessage:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorEnvelope builds the error envelope for err.
func ErrorEnvelope(requestID string, err error) *Envelope {
	pe := AsError(err)
	return CreateErrorEnvelope(requestID, pe.Code, pe.Message, pe.Details)
}
