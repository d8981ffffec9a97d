package operator

import "errors"

// Sentinel errors for the operator tool.
var (
	ErrNoFields     = errors.New("at least one of --cooldown or --grams is required")
	ErrNoSpecies    = errors.New("--species is required")
	ErrNoBroker     = errors.New("--broker is required")
	ErrInvalidLimit = errors.New("limit must be >= 1")
	ErrHTTPStatus   = errors.New("unexpected HTTP status")
)
