package esp32

import "errors"

// Domain errors for the esp32 package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, esp32.ErrBindFailed) {
//	    // port already in use
//	}
var (
	// ErrBindFailed is returned when the receiver cannot bind its local port.
	ErrBindFailed = errors.New("esp32: bind failed")

	// ErrMalformedMessage is returned when an inbound message has missing
	// or mistyped arguments.
	ErrMalformedMessage = errors.New("esp32: malformed message")

	// ErrUnknownAddress is returned when an inbound OSC address is not part
	// of the device protocol.
	ErrUnknownAddress = errors.New("esp32: unknown address")

	// ErrDisposed is returned when a disposed device is used or disposed again.
	ErrDisposed = errors.New("esp32: device disposed")

	// ErrReceiverClosed is returned when subscribing to a closed receiver.
	ErrReceiverClosed = errors.New("esp32: receiver closed")

	// ErrNotInitialized is returned when an operation needs an initialised manager.
	ErrNotInitialized = errors.New("esp32: manager not initialized")

	// ErrDeviceNotFound is returned when no device has the given name.
	ErrDeviceNotFound = errors.New("esp32: device not found")

	// ErrInvalidConfig is returned when a device configuration is unusable.
	ErrInvalidConfig = errors.New("esp32: invalid configuration")

	// ErrUnknownCommand is returned when a command name is not recognised.
	ErrUnknownCommand = errors.New("esp32: unknown command")

	// ErrManagerStopped is returned by Post and Do once the frame loop has exited.
	ErrManagerStopped = errors.New("esp32: manager stopped")

	// ErrDeviceListFetch is returned when the remote device list cannot be loaded.
	ErrDeviceListFetch = errors.New("esp32: device list fetch failed")
)
