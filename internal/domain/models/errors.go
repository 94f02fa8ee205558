package models

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when no owner identity was resolved for a request.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound indicates the requested record does not exist for the owner.
var ErrNotFound = errors.New("record not found")

// ValidationError reports input the user has to correct.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError reports the first feed type that cannot cover a usage request.
type InsufficientStockError struct {
	FeedType  string `json:"feed_type"`
	Requested int    `json:"requested_bags"`
	Available int    `json:"available_bags"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: required %d bags, but only %d bags remaining", e.FeedType, e.Requested, e.Available)
}

// PersistenceError wraps a backing store failure. The message shown to users is
// generic; the cause is kept for logging.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsBusinessError reports whether err is an expected outcome that should be
// shown to the user verbatim.
func IsBusinessError(err error) bool {
	var validationErr *ValidationError
	var stockErr *InsufficientStockError
	return errors.As(err, &validationErr) ||
		errors.As(err, &stockErr) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound)
}

// WrapPersistence converts unexpected errors into a PersistenceError and passes
// business errors through untouched.
func WrapPersistence(op string, err error) error {
	if err == nil || IsBusinessError(err) {
		return err
	}
	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
