// Package hardware drives the feeder mechanism: the lid servo and motor relay
// as the dispense actuator, the HX711 load cell as the mass sensor, and an
// in-memory hopper for bench runs.
package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/okian/iotreat/pkg/logger"
)

// Servo defaults for a hobby servo on a 50 Hz signal.
const (
	ServoFrequency         = 50 * physic.Hertz
	DefaultServoOpenDuty   = 7.5
	DefaultServoClosedDuty = 5.0
	DefaultServoSettle     = 300 * time.Millisecond
)

// LidOption applies a configuration option to the Lid.
type LidOption func(*Lid)

// WithDuty sets the servo duty cycles in percent.
func WithDuty(openPct, closedPct float64) LidOption {
	return func(l *Lid) {
		if openPct > 0 && openPct <= 100 {
			l.openDuty = percentDuty(openPct)
		}
		if closedPct > 0 && closedPct <= 100 {
			l.closedDuty = percentDuty(closedPct)
		}
	}
}

// WithSettle sets how long the servo is given to reach its position.
func WithSettle(d time.Duration) LidOption {
	return func(l *Lid) {
		if d >= 0 {
			l.settle = d
		}
	}
}

// WithLidLogger sets the logger.
func WithLidLogger(lg logger.Logger) LidOption {
	return func(l *Lid) {
		if lg != nil {
			l.log = lg
		}
	}
}

// Lid is the dispense actuator: a servo-driven lid plus the dispenser motor
// relay. Open lifts the lid then starts the motor; Close stops the motor then
// lowers the lid.
type Lid struct {
	servo      gpio.PinOut
	relay      gpio.PinOut
	openDuty   gpio.Duty
	closedDuty gpio.Duty
	settle     time.Duration
	log        logger.Logger

	mu     sync.Mutex
	isOpen bool
}

// NewLid creates a lid on the given pins. relay may be nil on builds without
// a motor.
func NewLid(servo, relay gpio.PinOut, opts ...LidOption) *Lid {
	l := &Lid{
		servo:      servo,
		relay:      relay,
		openDuty:   percentDuty(DefaultServoOpenDuty),
		closedDuty: percentDuty(DefaultServoClosedDuty),
		settle:     DefaultServoSettle,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get().Named("lid")
	}
	return l
}

// Open lifts the lid and starts the motor. Opening an open lid is a no-op.
func (l *Lid) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isOpen {
		return nil
	}
	if err := l.servo.PWM(l.openDuty, ServoFrequency); err != nil {
		return fmt.Errorf("%w: open: %w", ErrServo, err)
	}
	if err := sleep(ctx, l.settle); err != nil {
		return err
	}
	if l.relay != nil {
		if err := l.relay.Out(gpio.High); err != nil {
			return fmt.Errorf("%w: motor on: %w", ErrRelay, err)
		}
	}
	l.isOpen = true
	l.log.Debug(ctx, "lid open")
	return nil
}

// Close stops the motor and lowers the lid. It always drives both pins, so it
// also recovers a half-open lid.
func (l *Lid) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.relay != nil {
		if err := l.relay.Out(gpio.Low); err != nil {
			return fmt.Errorf("%w: motor off: %w", ErrRelay, err)
		}
	}
	if err := l.servo.PWM(l.closedDuty, ServoFrequency); err != nil {
		return fmt.Errorf("%w: close: %w", ErrServo, err)
	}
	l.isOpen = false
	if err := sleep(ctx, l.settle); err != nil {
		return err
	}
	l.log.Debug(ctx, "lid closed")
	return nil
}

// IsOpen reports the last commanded state.
func (l *Lid) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isOpen
}

func percentDuty(pct float64) gpio.Duty {
	return gpio.Duty(pct / 100 * float64(gpio.DutyMax))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
