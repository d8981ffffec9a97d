package feeding

import (
	"time"

	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithEligible restricts which species may trigger a dispense. An empty set
// makes every configured species eligible.
func WithEligible(set species.Set) Option {
	return func(o *Orchestrator) {
		o.eligible = set
	}
}

// WithPublisher sets the telemetry sink.
func WithPublisher(p telemetry.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithHistory records every attempt.
func WithHistory(h History) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.history = h
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithFrameInterval sets the pause between detection cycles.
func WithFrameInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.frameInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}
