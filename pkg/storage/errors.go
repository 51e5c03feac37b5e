package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a principal profile does not exist.
	ErrNotFound = errors.New("principal profile not found")

	// ErrConflict is returned when a principal profile with the given ID already exists.
	ErrConflict = errors.New("principal profile already exists")
)
