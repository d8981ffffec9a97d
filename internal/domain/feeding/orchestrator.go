// Package feeding runs the foreground detection loop: cooldown check,
// dispense, cooldown update and telemetry for each detection.
package feeding

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/okian/iotreat/internal/domain/cooldown"
	"github.com/okian/iotreat/internal/domain/dispense"
	"github.com/okian/iotreat/internal/domain/model"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

// DefaultFrameInterval is the pause between detection cycles.
const DefaultFrameInterval = 50 * time.Millisecond

// Sentinel errors.
var (
	// ErrDetectorStopped is returned by a Detector that will produce no more
	// detections.
	ErrDetectorStopped = errors.New("detector stopped")
	// ErrMissingCollaborator is returned by New when the gate or dispenser is nil.
	ErrMissingCollaborator = errors.New("orchestrator needs a cooldown gate and a dispenser")
)

// Detection is one classifier result. An empty Species means nothing was seen.
type Detection struct {
	Species    species.Species
	Confidence float64
}

// None reports whether nothing was detected.
func (d Detection) None() bool { return d.Species == "" }

// Detector yields one detection per call.
type Detector interface {
	Detect(ctx context.Context) (Detection, error)
}

// Gate is the cooldown decision the orchestrator consults.
type Gate interface {
	Status(sp species.Species, now time.Time) (cooldown.Status, error)
	MarkFed(sp species.Species, now time.Time)
}

// Dispenser runs one dispense attempt.
type Dispenser interface {
	Dispense(ctx context.Context, sp species.Species) dispense.Outcome
}

// History persists attempt records.
type History interface {
	Append(ctx context.Context, a model.Attempt) error
}

// Decision is what HandleDetection did with a detection.
type Decision int

// Decisions.
const (
	Ignored Decision = iota
	CooldownBlocked
	Dispensed
)

// Result reports the decision and, for Dispensed, the outcome.
type Result struct {
	Decision Decision
	Outcome  dispense.Outcome
}

// Stats are counters since start.
type Stats struct {
	Detections     uint64 `json:"detections"`
	Ignored        uint64 `json:"ignored"`
	CooldownBlocks uint64 `json:"cooldown_blocks"`
	Completed      uint64 `json:"completed"`
	TimedOut       uint64 `json:"timed_out"`
	Skipped        uint64 `json:"skipped"`
}

// Orchestrator is single-threaded by contract: Run processes one detection,
// and any dispense it triggers, before taking the next.
type Orchestrator struct {
	gate      Gate
	dispenser Dispenser
	eligible  species.Set

	publisher     telemetry.Publisher
	history       History
	clock         clock.Clock
	frameInterval time.Duration
	log           logger.Logger

	detections     atomic.Uint64
	ignored        atomic.Uint64
	cooldownBlocks atomic.Uint64
	completed      atomic.Uint64
	timedOut       atomic.Uint64
	skipped        atomic.Uint64
}

// New creates an orchestrator.
func New(gate Gate, d Dispenser, opts ...Option) (*Orchestrator, error) {
	if gate == nil || d == nil {
		return nil, ErrMissingCollaborator
	}
	o := &Orchestrator{
		gate:          gate,
		dispenser:     d,
		publisher:     telemetry.Discard,
		clock:         clock.Real{},
		frameInterval: DefaultFrameInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("feeding")
	}
	return o, nil
}

// HandleDetection runs one detection cycle.
func (o *Orchestrator) HandleDetection(ctx context.Context, det Detection) Result {
	sp := det.Species
	if det.None() {
		return Result{Decision: Ignored}
	}
	o.detections.Add(1)

	if len(o.eligible) > 0 && !o.eligible.Has(sp) {
		o.ignored.Add(1)
		return Result{Decision: Ignored}
	}

	now := o.clock.Now()
	st, err := o.gate.Status(sp, now)
	if err != nil {
		o.ignored.Add(1)
		o.log.Debug(ctx, "ignoring detection", logger.String("species", sp.String()), logger.Error(err))
		return Result{Decision: Ignored}
	}
	if !st.CanFeed {
		o.cooldownBlocks.Add(1)
		metrics.RecordCooldownBlock(sp.String())
		o.publisher.Publish(telemetry.NewCooldownActive(now, sp, st.Cooldown, st.Elapsed))
		return Result{Decision: CooldownBlocked}
	}

	metrics.RecordDetection(sp.String())
	o.publisher.Publish(telemetry.NewSpeciesDetected(now, sp))

	out := o.dispenser.Dispense(ctx, sp)
	done := o.clock.Now()
	o.gate.MarkFed(sp, done)

	o.report(ctx, done, out)
	return Result{Decision: Dispensed, Outcome: out}
}

func (o *Orchestrator) report(ctx context.Context, now time.Time, out dispense.Outcome) {
	sp := out.Species
	fields := []logger.Field{
		logger.String("species", sp.String()),
		logger.String("outcome", out.Kind.String()),
		logger.Float64("grams", out.Grams),
		logger.Duration("elapsed", out.Elapsed),
	}

	switch out.Kind {
	case dispense.Completed:
		o.completed.Add(1)
		o.publisher.Publish(telemetry.NewDispenseDone(now, sp, out.Grams, out.AttemptID))
		o.log.Info(ctx, "dispense completed", fields...)
	case dispense.TimedOut:
		o.timedOut.Add(1)
		o.publisher.Publish(telemetry.NewDispenseTimeout(now, sp, out.Grams, out.AttemptID, out.Err))
		o.log.Warn(ctx, "dispense timed out", append(fields, logger.Error(out.Err))...)
	case dispense.Skipped:
		o.skipped.Add(1)
		o.publisher.Publish(telemetry.NewSkipDispense(now, sp, out.Reason, out.AttemptID))
		o.log.Info(ctx, "dispense skipped", append(fields, logger.String("reason", out.Reason))...)
	}
	metrics.RecordDispenseOutcome(sp.String(), out.Kind.String(), out.Grams, out.Elapsed)

	if o.history == nil {
		return
	}
	rec := model.Attempt{
		ID:          out.AttemptID,
		Species:     sp.String(),
		TargetGrams: out.Target,
		Grams:       out.Grams,
		Outcome:     out.Kind.String(),
		Reason:      out.Reason,
		StartedAt:   out.StartedAt,
		Duration:    out.Elapsed,
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	if err := o.history.Append(ctx, rec); err != nil {
		metrics.RecordHistoryWriteError()
		o.log.Warn(ctx, "feeding history write failed", logger.Error(err))
	}
}

// Run drives the detection loop until ctx is cancelled or the detector
// stops. Cancellation returns nil; a stopped detector returns its error.
// Detector failures other than ErrDetectorStopped are logged and the loop
// continues.
func (o *Orchestrator) Run(ctx context.Context, d Detector) error {
	o.log.Info(ctx, "feeding loop started", logger.Duration("frame_interval", o.frameInterval))
	defer o.log.Info(ctx, "feeding loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		det, err := d.Detect(ctx)
		switch {
		case err == nil:
			o.HandleDetection(ctx, det)
		case errors.Is(err, ErrDetectorStopped):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			metrics.RecordDetectorError()
			o.log.Warn(ctx, "detection failed", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-o.clock.After(o.frameInterval):
		}
	}
}

// Stats returns counters since start.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Detections:     o.detections.Load(),
		Ignored:        o.ignored.Load(),
		CooldownBlocks: o.cooldownBlocks.Load(),
		Completed:      o.completed.Load(),
		TimedOut:       o.timedOut.Load(),
		Skipped:        o.skipped.Load(),
	}
}
