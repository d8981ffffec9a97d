package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors.
var (
	ErrProcessSample = errors.New("process metrics sample failed")
)
