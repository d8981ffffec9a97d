package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed = errors.New("telemetry queue closed")
	ErrFull   = errors.New("telemetry queue full")
)
