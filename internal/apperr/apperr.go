package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel domain errors. Handlers map these to HTTP statuses at the request
// boundary; anything unrecognised becomes a 500 with a generic message.
var (
	ErrQuotaExceeded       = errors.New("project holding limit reached")
	ErrPeerNotRegistered   = errors.New("terminal peer not registered")
	ErrValidation          = errors.New("validation failed")
	ErrSandboxCreateFailed = errors.New("sandbox create failed")
)

// Validation wraps a human-readable reason as a validation failure.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Status resolves the HTTP status code for a domain error.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPeerNotRegistered):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-safe message for a domain error. Unexpected
// errors are not echoed back; the full detail stays in logs.
func Message(err error) string {
	if Status(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
