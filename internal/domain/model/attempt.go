// Package model contains domain models passed between layers.
package model

import "time"

// Attempt is one feeding history record. It is written once per dispense
// attempt and never read back into the live cooldown or settings state.
type Attempt struct {
	ID          string        `json:"id"`           // attempt id, shared with telemetry
	Species     string        `json:"species"`      // feeding decision key
	TargetGrams float64       `json:"target_grams"` // target snapshot at attempt start
	Grams       float64       `json:"grams"`        // reached or last observed mass
	Outcome     string        `json:"outcome"`      // skipped, completed, timed_out
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
}
