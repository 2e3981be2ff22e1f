package pigpio

import (
	"errors"
	"fmt"
)

// Domain errors for the pigpio client package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the daemon.
	ErrNotConnected = errors.New("pigpio: not connected to daemon")

	// ErrConnectionFailed is returned when the connection to the daemon
	// fails, including a failed transparent reconnect.
	ErrConnectionFailed = errors.New("pigpio: connection to daemon failed")

	// ErrProtocolDesync is returned when a response or notification record
	// is malformed. The byte stream cannot be trusted afterwards, so the
	// connection is invalidated.
	ErrProtocolDesync = errors.New("pigpio: protocol desync")

	// ErrListenerClosed is returned when registering a callback on a
	// listener that has been closed.
	ErrListenerClosed = errors.New("pigpio: notification listener closed")

	// ErrInvalidGPIO is returned when a GPIO number is outside the bank-1
	// range 0-31. This is a programmer error and is rejected before any
	// bytes reach the daemon.
	ErrInvalidGPIO = errors.New("pigpio: gpio out of range 0-31")
)

// StatusError is a negative result code returned by the daemon for a
// well-formed request (bad mode, bad handle, not permitted). These are
// ordinary outcomes the caller must check, distinct from transport
// failures; use errors.As to inspect the code.
type StatusError struct {
	// Op is the facade operation that failed (e.g. "SetMode").
	Op string

	// Code is the daemon's negative status code.
	Code int32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pigpio: %s: daemon status %d", e.Op, e.Code)
}

// statusErr converts a daemon result into an error. Non-negative results
// return nil.
func statusErr(op string, res int32) error {
	if res >= 0 {
		return nil
	}
	return &StatusError{Op: op, Code: res}
}
