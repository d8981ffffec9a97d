package dispense

import (
	"time"

	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
)

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithTimeout sets the safety timeout measured from opening.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets the delay between mass readings.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithProgressInterval sets the minimum spacing of progress events.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.progressInterval = d
		}
	}
}

// WithCloseTimeout bounds the close call made on every exit path.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithPublisher sets the telemetry sink for start and progress events.
func WithPublisher(p telemetry.Publisher) Option {
	return func(c *Controller) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithIDGenerator replaces the attempt id source.
func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newID = gen
		}
	}
}
