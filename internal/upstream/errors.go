package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found upstream")

	// ErrTransient marks failures worth retrying later: network errors,
	// timeouts, rate limiting, 5xx responses and an open circuit.
	ErrTransient = errors.New("transient upstream failure")
)

// HTTPError is returned for non-retryable, non-404 status codes.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// transientError wraps a cause so that errors.Is(err, ErrTransient) holds
// while the cause stays reachable through errors.As.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.err}
}

func transient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
