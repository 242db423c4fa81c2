package common

import "errors"

// Sentinel errors shared across the persistence and service layers.
var (
	// ErrNotFound is returned on a lookup miss, distinguishable from a
	// transient backend failure.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned on a duplicate identity insert. UUID generation
	// makes this near impossible; treat occurrences as a bug signal.
	ErrConflict = errors.New("duplicate record")

	// ErrPoolExhausted means connection acquisition timed out. Retryable by
	// the caller with backoff.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrDependencyUnavailable covers cache or network-client outages.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrInFlight signals a request whose idempotency key is currently being
	// processed by another caller.
	ErrInFlight = errors.New("request already in flight")
)

// ValidationError rejects malformed or out-of-range input before persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
