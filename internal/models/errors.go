package models

import "errors"

var (
	// ErrValidation marks malformed input. No state was changed.
	ErrValidation = errors.New("validation error")

	// ErrConflict marks a duplicate or already-contacted address.
	ErrConflict = errors.New("conflict")

	ErrNotFound = errors.New("not found")

	// ErrStorage marks a failure of the persistence layer.
	ErrStorage = errors.New("storage error")
)
