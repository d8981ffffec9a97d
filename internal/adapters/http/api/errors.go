package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrLimitExceeded    = errors.New("limit exceeded")
)

// opError tags an error with the handler operation that produced it.
func opError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
