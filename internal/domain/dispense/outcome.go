package dispense

import (
	"time"

	"github.com/okian/iotreat/internal/domain/species"
)

// Kind is the terminal state of one attempt.
type Kind int

// Terminal states.
const (
	Skipped Kind = iota
	Completed
	TimedOut
)

// String returns the label used in metrics and history.
func (k Kind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Skip reasons besides telemetry.ReasonTargetNotPositive.
const (
	ReasonUnknownSpecies = "unknown_species"
)

// Outcome is the result of one dispense attempt.
type Outcome struct {
	Kind      Kind
	Species   species.Species
	AttemptID string
	Target    float64
	// Grams is the reached mass for Completed and the last observed mass for
	// TimedOut.
	Grams  float64
	Reason string
	// Err is the cause of a TimedOut: safety timeout, cancellation, or an
	// actuator fault.
	Err       error
	StartedAt time.Time
	Elapsed   time.Duration
}

// Opened reports whether the attempt moved the actuator.
func (o Outcome) Opened() bool { return o.Kind != Skipped }
