package request

import (
	"errors"
	"fmt"
)

// Common errors returned by the handler.
var (
	// ErrRetriesExhausted is returned when all backoff attempts are used
	// up without a successful response.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// ErrRateLimitTimeout is returned when a server-supplied Retry-After
	// wait exceeds the handler's timeout budget.
	ErrRateLimitTimeout = errors.New("rate limit wait exceeds timeout")

	// ErrContextCancelled is returned when the context is cancelled
	// during a backoff or rate-limit wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError is the terminal error for an unrecoverable request: an
// explicit client error with a message, exhausted backoff, or a
// rate-limit wait beyond the timeout budget. It carries the offending
// HTTP status when one was received.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("api error (status %d): %s: %v", e.StatusCode, e.Message, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("api error: %s: %v", e.Message, e.Err)
	default:
		return fmt.Sprintf("api error: %s", e.Message)
	}
}

// Unwrap supports errors.Is/As against the sentinel errors above.
func (e *APIError) Unwrap() error {
	return e.Err
}
