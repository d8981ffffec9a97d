package hardware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/devices/v3/hx711"

	"github.com/okian/iotreat/internal/domain/calibration"
	"github.com/okian/iotreat/internal/domain/dispense"
)

// Load cell defaults.
const (
	DefaultReadTimeout = 500 * time.Millisecond
	DefaultSamples     = 3
)

// RawReader is the HX711 conversion call.
type RawReader interface {
	ReadTimeout(timeout time.Duration) (int32, error)
}

// LoadCellOption applies a configuration option to the LoadCell.
type LoadCellOption func(*LoadCell)

// WithReadTimeout bounds the wait for each HX711 conversion.
func WithReadTimeout(d time.Duration) LoadCellOption {
	return func(c *LoadCell) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSamples sets how many conversions are averaged per reading.
func WithSamples(n int) LoadCellOption {
	return func(c *LoadCell) {
		if n > 0 {
			c.samples = n
		}
	}
}

// LoadCell reports the bowl mass in grams.
type LoadCell struct {
	adc     RawReader
	conv    *calibration.Converter
	timeout time.Duration
	samples int

	mu sync.Mutex
}

// NewLoadCell creates a load cell over adc using conv for the raw to grams
// conversion.
func NewLoadCell(adc RawReader, conv *calibration.Converter, opts ...LoadCellOption) *LoadCell {
	c := &LoadCell{
		adc:     adc,
		conv:    conv,
		timeout: DefaultReadTimeout,
		samples: DefaultSamples,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadMass averages the conversions that arrive in time. When none do it
// returns dispense.ErrSensorUnavailable. No conversion waits past ctx's
// deadline.
func (c *LoadCell) ReadMass(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	n := 0
	for i := 0; i < c.samples; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		wait := c.timeout
		if deadline, ok := ctx.Deadline(); ok {
			left := time.Until(deadline)
			if left <= 0 {
				break
			}
			wait = min(wait, left)
		}
		raw, err := c.adc.ReadTimeout(wait)
		if errors.Is(err, hx711.ErrTimeout) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("hx711 read: %w", err)
		}
		sum += int64(raw)
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: hx711 not ready after %d attempts", dispense.ErrSensorUnavailable, c.samples)
	}
	avg := int32(math.Round(float64(sum) / float64(n)))
	return c.conv.Grams(avg), nil
}
