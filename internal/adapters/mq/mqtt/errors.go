package mqtt

import "errors"

// Transport errors. The core treats every one of them as best-effort.
var (
	ErrNoBroker       = errors.New("mqtt broker not configured")
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrConnectTimeout = errors.New("mqtt connect timeout")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
	ErrSubscribe      = errors.New("mqtt subscribe failed")
	ErrTLSConfig      = errors.New("mqtt tls configuration invalid")
)
