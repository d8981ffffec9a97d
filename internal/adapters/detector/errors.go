package detector

import "errors"

// Sentinel kinds for detector errors.
var (
	ErrMalformedLine = errors.New("malformed detector line")
	ErrNoCommand     = errors.New("detector command is empty")
	ErrStarted       = errors.New("detector already started")
)
