// Package upstream provides the shared HTTP client for the external
// services this core depends on: the identity providers, the remote
// storage backend, the project registry, and the source-hosting API.
// It handles request construction, authentication, retry with
// exponential backoff, and error classification.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, upstream.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("upstream: bad request")
	ErrUnauthorized = errors.New("upstream: unauthorized")
	ErrForbidden    = errors.New("upstream: forbidden")
	ErrNotFound     = errors.New("upstream: not found")
	ErrConflict     = errors.New("upstream: conflict")
	ErrThrottled    = errors.New("upstream: throttled")
	ErrServerError  = errors.New("upstream: server error")

	// ErrUpstream marks a request whose retry budget is exhausted.
	// Foreground callers surface it; background jobs log and retry on
	// their next natural trigger.
	ErrUpstream = errors.New("upstream: retry budget exhausted")
)

// Error wraps a sentinel error with the HTTP status code and the response
// body for debugging.
type Error struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried
// under the classified policy. The retry-all policy ignores this and
// retries every non-2xx response.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
