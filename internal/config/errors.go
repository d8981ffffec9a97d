package config

import "errors"

var (
	// ErrInvalidConfig wraps every problem Validate finds.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps failures reading the file or environment layers.
	ErrLoadConfig = errors.New("load config failed")
)
