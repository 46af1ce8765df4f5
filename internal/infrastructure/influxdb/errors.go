package influxdb

import "errors"

// Metrics are best effort: none of these errors ever fails a login or a
// review. Connect reports the first two; the rest reach callers through
// HealthCheck or the SetOnError callback.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: metrics disabled")

	// ErrConnectionFailed means the startup ping failed or the server
	// reported itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: metrics backend unreachable")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps asynchronous batch write failures.
	ErrWriteFailed = errors.New("influxdb: metrics write failed")
)
