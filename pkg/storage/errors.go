package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when an invocation record does not exist or
	// belongs to another owner.
	ErrNotFound = errors.New("invocation not found")

	// ErrConflict is returned when a record with the given id already exists.
	ErrConflict = errors.New("invocation already recorded")
)
