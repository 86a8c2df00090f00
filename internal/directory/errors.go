package directory

import "errors"

var (
	// ErrNotFound is returned when no entry exists for a name.
	ErrNotFound = errors.New("directory: device not found")

	// ErrDefaultName is returned when a device registers with the factory name.
	ErrDefaultName = errors.New("directory: factory default name is not stored")

	// ErrInvalidEntry is returned when a required field is empty.
	ErrInvalidEntry = errors.New("directory: invalid entry")
)
