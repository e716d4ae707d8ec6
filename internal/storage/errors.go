package storage

import "errors"

var (
	// ErrNotFound is returned when a requested key has no entry.
	ErrNotFound = errors.New("storage: key not found")
	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("storage: store is closed")
)
