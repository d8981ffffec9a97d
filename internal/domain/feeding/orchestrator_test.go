package feeding

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/okian/iotreat/internal/domain/cooldown"
	"github.com/okian/iotreat/internal/domain/dispense"
	"github.com/okian/iotreat/internal/domain/model"
	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.WithOutput(io.Discard))
	os.Exit(m.Run())
}

type lid struct {
	mu     sync.Mutex
	open   bool
	opens  int
	failOn bool
}

func (l *lid) Open(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens++
	if l.failOn {
		return errors.New("servo jammed")
	}
	l.open = true
	return nil
}

func (l *lid) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	return nil
}

// scale reports a rising mass while the lid is open.
type scale struct {
	lid   *lid
	mass  float64
	step  float64
	stuck bool
}

func (s *scale) ReadMass(context.Context) (float64, error) {
	s.lid.mu.Lock()
	open := s.lid.open
	s.lid.mu.Unlock()
	if open && !s.stuck {
		s.mass += s.step
	}
	return s.mass, nil
}

type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Publish(ev telemetry.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) names() []telemetry.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]telemetry.Name, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func (r *recorder) last() telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type memHistory struct {
	mu      sync.Mutex
	records []model.Attempt
	err     error
}

func (h *memHistory) Append(_ context.Context, a model.Attempt) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, a)
	return nil
}

type rig struct {
	store   *settings.Store
	gate    *cooldown.Gate
	lid     *lid
	scale   *scale
	rec     *recorder
	history *memHistory
	clk     *clock.Fake
	orch    *Orchestrator
}

func newRig(opts ...Option) *rig {
	store, err := settings.New(map[species.Species]settings.SpeciesSettings{
		species.Cat:   {CooldownSeconds: 120, TargetGrams: 50},
		species.Dog:   {CooldownSeconds: 120, TargetGrams: 50},
		species.Human: {CooldownSeconds: 60, TargetGrams: 0},
	})
	So(err, ShouldBeNil)

	r := &rig{
		store:   store,
		gate:    cooldown.New(store),
		lid:     &lid{},
		rec:     &recorder{},
		history: &memHistory{},
		clk:     clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
	}
	r.scale = &scale{lid: r.lid, step: 20}

	ctrl, err := dispense.New(store, r.lid, r.scale,
		dispense.WithClock(r.clk),
		dispense.WithPublisher(r.rec),
		dispense.WithTimeout(5*time.Second),
	)
	So(err, ShouldBeNil)

	base := []Option{
		WithEligible(species.NewSet("cat", "dog")),
		WithPublisher(r.rec),
		WithHistory(r.history),
		WithClock(r.clk),
	}
	r.orch, err = New(r.gate, ctrl, append(base, opts...)...)
	So(err, ShouldBeNil)
	return r
}

func TestNewOrchestrator(t *testing.T) {
	Convey("Given a missing dispenser", t, func() {
		_, err := New(cooldown.New(nil), nil)

		Convey("Then New should fail", func() {
			So(errors.Is(err, ErrMissingCollaborator), ShouldBeTrue)
		})
	})
}

func TestHandleDetectionDispenses(t *testing.T) {
	Convey("Given an eligible cat that was never fed", t, func() {
		r := newRig()
		ctx := context.Background()

		res := r.orch.HandleDetection(ctx, Detection{Species: species.Cat, Confidence: 0.9})

		Convey("Then it should dispense to target and close the lid", func() {
			So(res.Decision, ShouldEqual, Dispensed)
			So(res.Outcome.Kind, ShouldEqual, dispense.Completed)
			So(res.Outcome.Grams, ShouldEqual, 60)
			So(r.lid.open, ShouldBeFalse)
		})

		Convey("Then telemetry should follow the attempt in order", func() {
			So(r.rec.names(), ShouldResemble, []telemetry.Name{
				telemetry.SpeciesDetected,
				telemetry.DispenseStart,
				telemetry.DispenseProgress,
				telemetry.DispenseDone,
			})
			So(r.rec.last().Body["reached_grams"], ShouldEqual, 60.0)
		})

		Convey("Then the attempt should be recorded in history", func() {
			So(len(r.history.records), ShouldEqual, 1)
			So(r.history.records[0].Outcome, ShouldEqual, "completed")
			So(r.history.records[0].ID, ShouldEqual, res.Outcome.AttemptID)
		})

		Convey("When the cat is seen again 30 seconds later", func() {
			r.rec.reset()
			r.clk.Advance(30 * time.Second)
			again := r.orch.HandleDetection(ctx, Detection{Species: species.Cat})

			Convey("Then cooldown_active should be reported without dispensing", func() {
				So(again.Decision, ShouldEqual, CooldownBlocked)
				So(r.lid.opens, ShouldEqual, 1)
				So(r.rec.names(), ShouldResemble, []telemetry.Name{telemetry.CooldownActive})
				ev := r.rec.last()
				So(ev.Body["cooldown_s"], ShouldEqual, 120)
				So(ev.Body["elapsed_s"], ShouldEqual, 30)
			})
		})

		Convey("When the cat is seen again after the cooldown", func() {
			r.clk.Advance(120 * time.Second)
			again := r.orch.HandleDetection(ctx, Detection{Species: species.Cat})

			Convey("Then it should dispense again", func() {
				So(again.Decision, ShouldEqual, Dispensed)
				So(r.lid.opens, ShouldEqual, 2)
			})
		})

		Convey("When a dog is seen right after the cat", func() {
			other := r.orch.HandleDetection(ctx, Detection{Species: species.Dog})

			Convey("Then cooldowns should be tracked per species", func() {
				So(other.Decision, ShouldEqual, Dispensed)
			})
		})
	})
}

func TestHandleDetectionIgnored(t *testing.T) {
	Convey("Given detections outside the eligible subset", t, func() {
		r := newRig()
		ctx := context.Background()

		human := r.orch.HandleDetection(ctx, Detection{Species: species.Human})
		none := r.orch.HandleDetection(ctx, Detection{})

		Convey("Then they should cause no state change and no telemetry", func() {
			So(human.Decision, ShouldEqual, Ignored)
			So(none.Decision, ShouldEqual, Ignored)
			So(r.rec.names(), ShouldBeEmpty)
			So(r.lid.opens, ShouldEqual, 0)
			st, _ := r.gate.Status(species.Human, r.clk.Now())
			So(st.NeverFed, ShouldBeTrue)
		})
	})

	Convey("Given every configured species is eligible", t, func() {
		r := newRig(WithEligible(nil))
		ctx := context.Background()

		Convey("When an unknown species is detected", func() {
			res := r.orch.HandleDetection(ctx, Detection{Species: "ferret"})

			Convey("Then it should be dropped", func() {
				So(res.Decision, ShouldEqual, Ignored)
				So(r.rec.names(), ShouldBeEmpty)
			})
		})

		Convey("When a species with a zero target is detected", func() {
			res := r.orch.HandleDetection(ctx, Detection{Species: species.Human})

			Convey("Then the attempt should be skipped and still start a cooldown", func() {
				So(res.Decision, ShouldEqual, Dispensed)
				So(res.Outcome.Kind, ShouldEqual, dispense.Skipped)
				So(r.lid.opens, ShouldEqual, 0)
				So(r.rec.names(), ShouldResemble, []telemetry.Name{telemetry.SpeciesDetected, telemetry.SkipDispense})
				So(r.rec.last().Body["reason"], ShouldEqual, telemetry.ReasonTargetNotPositive)

				next := r.orch.HandleDetection(ctx, Detection{Species: species.Human})
				So(next.Decision, ShouldEqual, CooldownBlocked)
			})
		})
	})
}

func TestHandleDetectionFailures(t *testing.T) {
	Convey("Given a jammed mechanism that never reaches the target", t, func() {
		r := newRig()
		r.scale.stuck = true
		r.scale.mass = 7
		ctx := context.Background()

		res := r.orch.HandleDetection(ctx, Detection{Species: species.Dog})

		Convey("Then the attempt should time out and still start a cooldown", func() {
			So(res.Outcome.Kind, ShouldEqual, dispense.TimedOut)
			So(r.rec.last().Name, ShouldEqual, telemetry.DispenseTimeout)
			So(r.rec.last().Body["last_grams"], ShouldEqual, 7.0)
			So(r.lid.open, ShouldBeFalse)

			again := r.orch.HandleDetection(ctx, Detection{Species: species.Dog})
			So(again.Decision, ShouldEqual, CooldownBlocked)
		})
	})

	Convey("Given an actuator fault", t, func() {
		r := newRig()
		r.lid.failOn = true

		res := r.orch.HandleDetection(context.Background(), Detection{Species: species.Cat})

		Convey("Then the outcome should carry the fault into telemetry and history", func() {
			So(res.Outcome.Kind, ShouldEqual, dispense.TimedOut)
			So(errors.Is(res.Outcome.Err, dispense.ErrActuatorFault), ShouldBeTrue)
			So(r.rec.last().Body["error"], ShouldContainSubstring, "servo jammed")
			So(r.history.records[0].Error, ShouldContainSubstring, "servo jammed")
		})
	})

	Convey("Given a history store that fails", t, func() {
		r := newRig()
		r.history.err = errors.New("disk full")

		res := r.orch.HandleDetection(context.Background(), Detection{Species: species.Cat})

		Convey("Then feeding should be unaffected", func() {
			So(res.Outcome.Kind, ShouldEqual, dispense.Completed)
			So(r.orch.Stats().Completed, ShouldEqual, 1)
		})
	})
}

type scriptedDetector struct {
	mu      sync.Mutex
	results []Detection
	errs    []error
	calls   int
}

func (d *scriptedDetector) Detect(ctx context.Context) (Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.errs) && d.errs[i] != nil {
		return Detection{}, d.errs[i]
	}
	if i < len(d.results) {
		return d.results[i], nil
	}
	return Detection{}, ErrDetectorStopped
}

type blockingDetector struct{}

func (blockingDetector) Detect(ctx context.Context) (Detection, error) {
	<-ctx.Done()
	return Detection{}, ctx.Err()
}

func TestRun(t *testing.T) {
	Convey("Given a detector that produces a few frames and stops", t, func() {
		r := newRig()
		det := &scriptedDetector{
			results: []Detection{
				{},
				{Species: species.Cat},
				{},
				{Species: species.Cat},
				{Species: species.Human},
				{Species: species.Dog},
			},
			errs: []error{nil, nil, errors.New("camera hiccup")},
		}

		err := r.orch.Run(context.Background(), det)

		Convey("Then each frame should be handled in turn and the stop reported", func() {
			So(errors.Is(err, ErrDetectorStopped), ShouldBeTrue)
			So(det.calls, ShouldEqual, 7)
			st := r.orch.Stats()
			So(st.Detections, ShouldEqual, 4)
			So(st.Completed, ShouldEqual, 2)
			So(st.CooldownBlocks, ShouldEqual, 1)
			So(st.Ignored, ShouldEqual, 1)
		})
	})

	Convey("Given a loop blocked on detection", t, func() {
		r := newRig()
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- r.orch.Run(ctx, blockingDetector{}) }()
		cancel()

		Convey("Then cancellation should stop it cleanly", func() {
			select {
			case err := <-errCh:
				So(err, ShouldBeNil)
			case <-time.After(2 * time.Second):
				So("run did not stop", ShouldBeEmpty)
			}
		})
	})
}
