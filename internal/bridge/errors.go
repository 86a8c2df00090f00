package bridge

import "errors"

var (
	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrInvalidCommand is returned when a command message cannot be parsed.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrInvalidParameters is returned when command parameters are out of range.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")
)
