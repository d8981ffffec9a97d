package configsync

import "errors"

// Sentinel errors for configuration messages.
var (
	// ErrMalformedMessage is returned for payloads that are not a JSON object
	// in either accepted shape. Nothing is applied.
	ErrMalformedMessage = errors.New("malformed configuration message")
	// ErrMissingStore is returned by New without a settings store.
	ErrMissingStore = errors.New("configsync needs a settings store")
)
