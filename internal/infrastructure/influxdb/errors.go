package influxdb

import "errors"

// Sentinel errors for the telemetry client, checked with errors.Is.
// Write failures never surface here: writes are batched and reported
// asynchronously through the OnError callback.
var (
	// ErrNotConnected means the client has been closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed means the health ping at startup failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means telemetry is switched off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
