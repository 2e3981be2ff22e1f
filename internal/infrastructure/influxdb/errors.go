package influxdb

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrNotConnected means the client has been closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps a failed initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means the influxdb config section has enabled: false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
