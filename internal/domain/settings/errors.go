package settings

import "errors"

// Sentinel errors for the settings store.
var (
	ErrUnknownSpecies = errors.New("unknown species")
	ErrNoDefaults     = errors.New("settings store needs at least one species")
	ErrInvalidDefault = errors.New("invalid default settings")
)
