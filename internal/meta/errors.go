package meta

import "errors"

var (
	// ErrValidation is returned when a supplied id does not match the
	// entity's own id field
	ErrValidation = errors.New("id does not match entity id")

	// ErrNotFound is returned when a lookup has no matching row
	ErrNotFound = errors.New("not found")
)
