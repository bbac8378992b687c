package transport

import "errors"

var (
	// ErrIncompatibleDevice is returned when a device of the wrong transport
	// kind is routed to a driver.
	ErrIncompatibleDevice = errors.New("transport: device incompatible with driver")

	// ErrTransportDisabled is returned when the platform radio/network is off.
	ErrTransportDisabled = errors.New("transport: disabled at platform level")

	// ErrHandshakeFailure is returned when the device answers the connection
	// handshake with anything other than the expected acknowledgment.
	ErrHandshakeFailure = errors.New("transport: handshake failure")

	// ErrTimeout is returned when a handshake, read or command exceeds its
	// deadline.
	ErrTimeout = errors.New("transport: timeout")

	// ErrNotConnected is returned when a command or stream is attempted
	// without an active link.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrCommandRejected is returned when the device acknowledges a command
	// with something other than OK; the echoed response is attached as
	// diagnostic detail.
	ErrCommandRejected = errors.New("transport: command rejected")
)
