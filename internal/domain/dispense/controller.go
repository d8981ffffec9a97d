// Package dispense drives one open, dispense-to-target, close cycle against a
// load cell with a hard safety timeout.
package dispense

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

// Default controller timing.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultPollInterval     = 50 * time.Millisecond
	DefaultProgressInterval = time.Second
	defaultCloseTimeout     = 2 * time.Second
)

// Actuator opens and closes the dispenser. Both calls are idempotent.
type Actuator interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// Sensor reads the current mass in grams. It returns ErrSensorUnavailable
// when no sample is ready.
type Sensor interface {
	ReadMass(ctx context.Context) (float64, error)
}

// SettingsReader is the part of the settings store the controller needs.
type SettingsReader interface {
	Get(sp species.Species) (settings.SpeciesSettings, error)
}

// Controller runs dispense attempts. Attempts are serialized because the
// actuator is shared by every species.
type Controller struct {
	settings SettingsReader
	actuator Actuator
	sensor   Sensor

	publisher telemetry.Publisher
	clock     clock.Clock
	log       logger.Logger
	newID     func() string

	timeout          time.Duration
	pollInterval     time.Duration
	progressInterval time.Duration
	closeTimeout     time.Duration

	mu sync.Mutex
}

// New creates a controller.
func New(s SettingsReader, a Actuator, sensor Sensor, opts ...Option) (*Controller, error) {
	if s == nil || a == nil || sensor == nil {
		return nil, ErrMissingCollaborator
	}
	c := &Controller{
		settings:         s,
		actuator:         a,
		sensor:           sensor,
		publisher:        telemetry.Discard,
		clock:            clock.Real{},
		newID:            uuid.NewString,
		timeout:          DefaultTimeout,
		pollInterval:     DefaultPollInterval,
		progressInterval: DefaultProgressInterval,
		closeTimeout:     defaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("dispense")
	}
	return c, nil
}

// Dispense runs one attempt for sp and always returns a terminal outcome.
// The target is read once at the start; later setting changes apply to the
// next attempt. Once the actuator has been told to open it is closed on every
// return path, including cancellation and collaborator panics.
func (c *Controller) Dispense(ctx context.Context, sp species.Species) (out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out = Outcome{Species: sp, StartedAt: c.clock.Now()}

	cfg, err := c.settings.Get(sp)
	if err != nil {
		out.Kind = Skipped
		out.Reason = ReasonUnknownSpecies
		out.Err = err
		return out
	}
	out.Target = cfg.TargetGrams
	if out.Target <= 0 {
		out.Kind = Skipped
		out.Reason = telemetry.ReasonTargetNotPositive
		return out
	}

	out.AttemptID = c.newID()
	c.publisher.Publish(telemetry.NewDispenseStart(out.StartedAt, sp, out.Target, out.AttemptID))

	var last float64
	defer func() {
		if r := recover(); r != nil {
			out.Kind = TimedOut
			out.Grams = last
			out.Err = fmt.Errorf("%w: %v", ErrCollaboratorPanic, r)
			c.log.Error(ctx, "dispense aborted by panic",
				logger.String("species", sp.String()),
				logger.Any("panic", r),
			)
		}
		if cerr := c.close(ctx); cerr != nil {
			out.Kind = TimedOut
			out.Grams = last
			out.Err = errors.Join(out.Err, cerr)
		}
		out.Elapsed = c.clock.Now().Sub(out.StartedAt)
	}()

	if err := c.actuator.Open(ctx); err != nil {
		metrics.RecordActuatorFault("open")
		c.log.Error(ctx, "open dispenser failed", logger.String("species", sp.String()), logger.Error(err))
		out.Kind = TimedOut
		out.Err = fmt.Errorf("%w: open: %w", ErrActuatorFault, err)
		return out
	}

	out.Kind, out.Grams, out.Err = c.loop(ctx, sp, out.Target, out.AttemptID, &last)
	return out
}

// loop polls the sensor until the target is reached, the safety timeout
// expires, or ctx is cancelled. last tracks the most recent valid reading.
func (c *Controller) loop(ctx context.Context, sp species.Species, target float64, attemptID string, last *float64) (Kind, float64, error) {
	opened := c.clock.Now()
	var lastProgress time.Time
	progressed := false

	for {
		if err := ctx.Err(); err != nil {
			return TimedOut, *last, err
		}

		grams, err := c.read(ctx, c.timeout-c.clock.Now().Sub(opened))
		if errors.Is(err, errReadAbandoned) {
			if cerr := ctx.Err(); cerr != nil {
				return TimedOut, *last, cerr
			}
			c.log.Error(ctx, "load cell read outlived the safety timeout", logger.String("species", sp.String()))
			return TimedOut, *last, ErrSafetyTimeout
		}
		now := c.clock.Now()
		switch {
		case err != nil:
			// A missing sample is skipped; only the safety timeout escalates.
			metrics.RecordSensorMissingSample()
			if !errors.Is(err, ErrSensorUnavailable) {
				c.log.Warn(ctx, "load cell read failed", logger.String("species", sp.String()), logger.Error(err))
			}
		case math.IsNaN(grams):
			metrics.RecordSensorMissingSample()
		default:
			grams = math.Max(0, grams)
			*last = grams
			if !progressed || now.Sub(lastProgress) >= c.progressInterval {
				c.publisher.Publish(telemetry.NewDispenseProgress(now, sp, grams, attemptID))
				lastProgress = now
				progressed = true
			}
			if grams >= target {
				return Completed, grams, nil
			}
		}

		if now.Sub(opened) >= c.timeout {
			return TimedOut, *last, ErrSafetyTimeout
		}

		select {
		case <-ctx.Done():
		case <-c.clock.After(c.pollInterval):
		}
	}
}

// errReadAbandoned marks a sensor read that did not return before its
// deadline.
var errReadAbandoned = errors.New("sensor read abandoned")

type reading struct {
	grams float64
	err   error
	panic any
}

// read calls the sensor with at most budget left. A driver that ignores its
// context is left behind; the attempt does not wait for it. A panic in the
// driver is re-raised on the caller's goroutine.
func (c *Controller) read(ctx context.Context, budget time.Duration) (float64, error) {
	if budget <= 0 {
		return 0, errReadAbandoned
	}
	rctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan reading, 1)
	go func() {
		var r reading
		defer func() {
			if p := recover(); p != nil {
				r.panic = p
			}
			done <- r
		}()
		r.grams, r.err = c.sensor.ReadMass(rctx)
	}()

	select {
	case r := <-done:
		if r.panic != nil {
			panic(r.panic)
		}
		if r.err != nil && rctx.Err() != nil && ctx.Err() == nil {
			return 0, errReadAbandoned
		}
		return r.grams, r.err
	case <-rctx.Done():
		return 0, errReadAbandoned
	}
}

// close commands the actuator closed on a context that survives cancellation
// of the attempt.
func (c *Controller) close(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout)
	defer cancel()
	if err := c.actuator.Close(cctx); err != nil {
		metrics.RecordActuatorFault("close")
		c.log.Error(ctx, "close dispenser failed", logger.Error(err))
		return fmt.Errorf("%w: close: %w", ErrActuatorFault, err)
	}
	return nil
}

// Timeout returns the configured safety timeout.
func (c *Controller) Timeout() time.Duration { return c.timeout }
