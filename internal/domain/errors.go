package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrAuthExpired signals that a producer's credential was rejected upstream.
// It is fatal to the producer only; the orchestrator pauses the producer and
// asks the session provider for a renewal.
var ErrAuthExpired = errors.New("authentication expired")

// TransientError marks a failure worth retrying at the point of occurrence:
// timeouts, connection resets, and 5xx-class responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried rather than escalated.
// Context cancellation is never transient; it means the run is shutting down.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A per-attempt deadline is retryable; only an outer cancel is not.
		return true
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
