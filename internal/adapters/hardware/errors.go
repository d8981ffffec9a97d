package hardware

import "errors"

// Sentinel kinds for hardware errors.
var (
	ErrHostInit    = errors.New("gpio host init failed")
	ErrPinNotFound = errors.New("gpio pin not found")
	ErrServo       = errors.New("servo command failed")
	ErrRelay       = errors.New("relay command failed")
)
