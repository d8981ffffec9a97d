package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/okian/iotreat/pkg/clock"
)

// DefaultFlowGramsPerSecond is the simulated fill rate while the lid is open.
const DefaultFlowGramsPerSecond = 10.0

// HopperOption applies a configuration option to the Hopper.
type HopperOption func(*Hopper)

// WithFlowRate sets the fill rate in grams per second.
func WithFlowRate(gramsPerSecond float64) HopperOption {
	return func(h *Hopper) {
		if gramsPerSecond > 0 {
			h.flow = gramsPerSecond
		}
	}
}

// WithHopperClock replaces the wall clock.
func WithHopperClock(c clock.Clock) HopperOption {
	return func(h *Hopper) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithJammed makes the hopper dispense nothing, as with an empty or blocked
// chute.
func WithJammed() HopperOption {
	return func(h *Hopper) {
		h.jammed = true
	}
}

// Hopper simulates the lid and the bowl scale. Mass rises at the flow rate
// while open; on close the bowl is emptied, as if the pet ate the portion.
type Hopper struct {
	clock  clock.Clock
	flow   float64
	jammed bool

	mu       sync.Mutex
	open     bool
	openedAt time.Time
	settled  float64
	opens    int
}

// NewHopper creates a simulated hopper.
func NewHopper(opts ...HopperOption) *Hopper {
	h := &Hopper{
		clock: clock.Real{},
		flow:  DefaultFlowGramsPerSecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open starts the flow. Opening an open hopper is a no-op.
func (h *Hopper) Open(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return nil
	}
	h.open = true
	h.openedAt = h.clock.Now()
	h.opens++
	return nil
}

// Close stops the flow and empties the bowl.
func (h *Hopper) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
	h.settled = 0
	return nil
}

// ReadMass returns the simulated bowl mass.
func (h *Hopper) ReadMass(context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.massLocked(), nil
}

func (h *Hopper) massLocked() float64 {
	if !h.open || h.jammed {
		return h.settled
	}
	return h.settled + h.flow*h.clock.Now().Sub(h.openedAt).Seconds()
}

// IsOpen reports whether the hopper is dispensing.
func (h *Hopper) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Opens returns how many times the hopper was opened.
func (h *Hopper) Opens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opens
}
