package repository

import "errors"

// Sentinel kinds for history errors.
var (
	ErrInvalidLimit  = errors.New("invalid history limit")
	ErrUnknownDriver = errors.New("unknown history driver")
	ErrClosed        = errors.New("history store closed")
)
