package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for token validation.
var (
	// ErrEmptyToken indicates that no token was supplied.
	ErrEmptyToken = errors.New("token is empty")

	// ErrTokenInvalid indicates that the token is malformed or its
	// signature does not verify.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates that the token is not yet valid.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrInvalidIssuer indicates that the token issuer is not accepted.
	ErrInvalidIssuer = errors.New("token issuer is invalid")

	// ErrInvalidAudience indicates that the token audience is not accepted.
	ErrInvalidAudience = errors.New("token audience is invalid")

	// ErrNoKeyMaterial indicates the validator has no secret or JWKS source.
	ErrNoKeyMaterial = errors.New("no key material configured")
)

// ValidationError wraps a token validation failure with context.
type ValidationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("jwt validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("jwt validation error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok || errors.Is(e.Cause, target)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{
		Message: message,
		Cause:   cause,
	}
}
