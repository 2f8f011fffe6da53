package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMalformedEnvelope = errors.New("malformed response envelope")
)

// TransportError covers everything where the backend could not give a
// verdict: connection failures, timeouts and 5xx responses.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: backend returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable is false only when the caller gave up on the request.
func (e *TransportError) Retryable() bool {
	return !errors.Is(e.Err, context.Canceled)
}

// APIError is a verdict from the backend: a 4xx response or a 2xx envelope
// with success=false.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request with status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend rejected request with status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRejection reports whether the backend refused the command because of the
// ticket's current state or the payload, as opposed to access or routing.
func (e *APIError) IsRejection() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// IsRejection unwraps err looking for a backend state rejection.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRejection()
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) && transportErr.Retryable()
}
