package repo

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert collides with an existing
	// record on a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)
