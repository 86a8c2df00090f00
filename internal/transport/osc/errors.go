package osc

import "errors"

// Domain errors for the OSC transport.
var (
	// ErrBindFailed is returned when the local UDP port cannot be bound.
	ErrBindFailed = errors.New("osc: bind failed")

	// ErrDialFailed is returned when a remote address cannot be resolved
	// or a client socket cannot be created.
	ErrDialFailed = errors.New("osc: dial failed")

	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("osc: transport closed")

	// ErrUnsupportedArgument is returned when a message argument has a type
	// that cannot be encoded as an OSC argument.
	ErrUnsupportedArgument = errors.New("osc: unsupported argument type")

	// ErrNotOSC is reported for datagrams that are neither an OSC message
	// nor a bundle.
	ErrNotOSC = errors.New("osc: not an osc packet")

	// ErrSendFailed is returned when a datagram could not be written.
	ErrSendFailed = errors.New("osc: send failed")
)
