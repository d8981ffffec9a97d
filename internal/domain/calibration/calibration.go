// Package calibration converts raw load cell counts into grams.
package calibration

import (
	"errors"
	"math"
)

// Default calibration of the bench HX711 + 1 kg cell.
const (
	DefaultOffset = -131480
	DefaultScale  = 1563.7
)

// ErrInvalidScale is returned for a zero or non-finite scale factor.
var ErrInvalidScale = errors.New("calibration scale must be finite and non-zero")

// Option applies a configuration option to the Converter.
type Option func(*Converter)

// WithOffset sets the raw count at zero load.
func WithOffset(offset float64) Option {
	return func(c *Converter) {
		c.offset = offset
	}
}

// WithScale sets counts per gram.
func WithScale(scale float64) Option {
	return func(c *Converter) {
		c.scale = scale
	}
}

// Converter maps raw counts to grams: (raw - offset) / scale, clamped to >= 0.
type Converter struct {
	offset float64
	scale  float64
}

// New creates a converter with the default calibration unless overridden.
func New(opts ...Option) (*Converter, error) {
	c := &Converter{
		offset: DefaultOffset,
		scale:  DefaultScale,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scale == 0 || math.IsNaN(c.scale) || math.IsInf(c.scale, 0) {
		return nil, ErrInvalidScale
	}
	return c, nil
}

// Grams converts a raw reading. Readings below the zero-load point become 0.
func (c *Converter) Grams(raw int32) float64 {
	g := (float64(raw) - c.offset) / c.scale
	return math.Max(0, g)
}

// Offset returns the zero-load raw count.
func (c *Converter) Offset() float64 { return c.offset }

// Scale returns counts per gram.
func (c *Converter) Scale() float64 { return c.scale }
