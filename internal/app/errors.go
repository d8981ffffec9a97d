package service

import "errors"

// Sentinel errors for the service lifecycle.
var (
	ErrNotStarted = errors.New("service not started")
	ErrStopped    = errors.New("service stopped")
)
