package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors for circuit breaker operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker denies admission.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrCallTimeout is returned when an operation exceeds the per-call deadline.
	ErrCallTimeout = errors.New("circuit breaker call timed out")

	// ErrInvalidState is returned when an unrecognized state is forced.
	ErrInvalidState = errors.New("invalid circuit breaker state")
)

// OpenError is returned when a call is rejected because the circuit is open.
// It carries the retry hint so callers can surface it to clients.
type OpenError struct {
	Name        string
	State       State
	NextAttempt time.Time
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s, next attempt at %s",
		e.Name, e.State, e.NextAttempt.Format(time.RFC3339))
}

// Is reports whether the target matches ErrCircuitOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// TimeoutError is returned when an operation exceeds the configured call
// timeout. The breach counts as a failure.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("circuit breaker %s: call exceeded timeout of %s", e.Name, e.Timeout)
}

// Is reports whether the target matches ErrCallTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrCallTimeout
}

// HTTPError carries an upstream HTTP status code so the failure filter can
// distinguish client mistakes (4xx) from backend failures (5xx).
type HTTPError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// NewHTTPError creates an HTTPError for the given status code.
func NewHTTPError(statusCode int) *HTTPError {
	return &HTTPError{StatusCode: statusCode}
}

// DefaultFailureFilter is the default failure classification. Client-caused
// errors do not count against the backend: 4xx upstream responses, DNS
// resolution failures on a misconfigured URL, and client-side cancellation.
// Everything else counts as a failure.
func DefaultFailureFilter(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	return true
}
