package shared

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates a disallowed status transition.
	ErrInvalidState = errors.New("invalid status transition")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("validation failed")
)
