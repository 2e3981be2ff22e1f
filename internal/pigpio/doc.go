// Package pigpio implements a client for the pigpio daemon's socket protocol.
//
// The daemon (pigpiod) owns the Raspberry Pi's GPIO pins and exposes them
// over TCP using fixed-size binary command frames. This package provides the
// framing layer, a serialised request/response session, a typed command
// facade, and an asynchronous notification listener for GPIO level changes.
//
// # Architecture
//
// Each client owns up to two TCP connections to the same daemon:
//
//	┌─────────────────┐  command socket   ┌─────────────────┐
//	│     Client      │◄─────────────────►│     pigpiod     │
//	│   (this pkg)    │◄──────────────────│                 │
//	└─────────────────┘  notify socket    └─────────────────┘
//
// The command socket carries strict request/response pairs (16-byte frames,
// optionally extended with a variable-length payload). The notify socket is
// opened lazily on the first Callback registration and streams 12-byte level
// change records which are dispatched to per-GPIO handlers.
//
// # Key Responsibilities
//
//   - Encode/decode the fixed 16-byte command frame and extended variant
//   - Serialise concurrent commands on one socket (one request, one response)
//   - Reconnect transparently when the command socket is found closed
//   - Maintain the notification subscription bitmask and dispatch edges
//   - Surface daemon status codes as typed, checkable errors
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Edge handlers for a given GPIO are invoked one at a time, in the order
// records were read from the stream.
//
// # References
//
//   - pigpio socket protocol: https://abyz.me.uk/rpi/pigpio/sif.html
package pigpio
