package configsync

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

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

type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Publish(ev telemetry.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func defaults() map[species.Species]settings.SpeciesSettings {
	return map[species.Species]settings.SpeciesSettings{
		species.Cat:   {CooldownSeconds: 120, TargetGrams: 50},
		species.Dog:   {CooldownSeconds: 120, TargetGrams: 50},
		species.Human: {CooldownSeconds: 60, TargetGrams: 0},
	}
}

func newSync() (*Sync, *settings.Store, *recorder) {
	store, err := settings.New(defaults())
	So(err, ShouldBeNil)
	rec := &recorder{}
	s, err := New(store,
		WithPublisher(rec),
		WithClock(clock.NewFake(time.UnixMilli(1700000000000))),
	)
	So(err, ShouldBeNil)
	return s, store, rec
}

func TestNew(t *testing.T) {
	Convey("Given no store", t, func() {
		_, err := New(nil)

		Convey("Then New should fail", func() {
			So(errors.Is(err, ErrMissingStore), ShouldBeTrue)
		})
	})
}

func TestApplyFlatMessage(t *testing.T) {
	Convey("Given a flat message for cat", t, func() {
		s, store, rec := newSync()

		updated, err := s.Apply(context.Background(), []byte(`{"species":"cat","cooldown":90,"grams":40}`))

		Convey("Then cat should be updated and reported exactly", func() {
			So(err, ShouldBeNil)
			So(updated, ShouldResemble, Updated{species.Cat: {CooldownSeconds: 90, TargetGrams: 40}})
			got, _ := store.Get(species.Cat)
			So(got, ShouldResemble, settings.SpeciesSettings{CooldownSeconds: 90, TargetGrams: 40})
		})

		Convey("Then one settings_updated event should be published", func() {
			So(rec.count(), ShouldEqual, 1)
			ev := rec.events[0]
			So(ev.Name, ShouldEqual, telemetry.SettingsUpdated)
			So(ev.Millis(), ShouldEqual, 1700000000000)
			So(ev.Body["updated"], ShouldResemble, map[string]settings.SpeciesSettings{
				"cat": {CooldownSeconds: 90, TargetGrams: 40},
			})
		})

		Convey("Then other species should be untouched", func() {
			got, _ := store.Get(species.Dog)
			So(got, ShouldResemble, defaults()[species.Dog])
		})
	})
}

func TestApplyMapMessage(t *testing.T) {
	Convey("Given a map message with a good and a bad field", t, func() {
		s, store, rec := newSync()

		updated, err := s.Apply(context.Background(), []byte(`{"cat":{"grams":35.5},"dog":{"cooldown":"abc","grams":"20"},"ferret":{"grams":5}}`))

		Convey("Then valid fields should apply and the rest be ignored", func() {
			So(err, ShouldBeNil)
			So(updated, ShouldResemble, Updated{
				species.Cat: {CooldownSeconds: 120, TargetGrams: 35.5},
				species.Dog: {CooldownSeconds: 120, TargetGrams: 20},
			})
			So(store.Has("ferret"), ShouldBeFalse)
			So(rec.count(), ShouldEqual, 1)
		})
	})

	Convey("Given a negative cooldown for dog", t, func() {
		s, store, rec := newSync()

		updated, err := s.Apply(context.Background(), []byte(`{"dog":{"cooldown":-5}}`))

		Convey("Then nothing should change and no event be published", func() {
			So(err, ShouldBeNil)
			So(updated, ShouldBeEmpty)
			got, _ := store.Get(species.Dog)
			So(got, ShouldResemble, defaults()[species.Dog])
			So(rec.count(), ShouldEqual, 0)
		})
	})
}

func TestApplyNoOpMessages(t *testing.T) {
	Convey("Given messages that update zero species", t, func() {
		cases := []string{
			`{}`,
			`{"ferret":{"cooldown":10}}`,
			`{"cat":{"cooldown":-1,"grams":-2}}`,
			`{"cat":"not an object"}`,
			`{"species":"cat"}`,
			`{"species":"cat","cooldown":true,"grams":null}`,
			`{"species":7,"grams":5}`,
			`{"species":null,"cooldown":10}`,
		}

		for _, msg := range cases {
			s, store, rec := newSync()
			before := store.Snapshot()

			updated, err := s.Apply(context.Background(), []byte(msg))

			So(err, ShouldBeNil)
			So(updated, ShouldBeEmpty)
			So(rec.count(), ShouldEqual, 0)
			So(store.Snapshot(), ShouldResemble, before)
		}
	})
}

func TestApplyMalformed(t *testing.T) {
	Convey("Given payloads that are not a configuration object", t, func() {
		cases := []string{``, `not json`, `[1,2]`, `"cat"`, `null`, `{"cat":{}} trailing`}

		for _, msg := range cases {
			s, store, rec := newSync()
			before := store.Snapshot()

			updated, err := s.Apply(context.Background(), []byte(msg))

			So(errors.Is(err, ErrMalformedMessage), ShouldBeTrue)
			So(updated, ShouldBeNil)
			So(rec.count(), ShouldEqual, 0)
			So(store.Snapshot(), ShouldResemble, before)
		}
	})
}

func TestApplyIdempotence(t *testing.T) {
	Convey("Given the same valid message applied twice", t, func() {
		s, _, rec := newSync()
		msg := []byte(`{"species":"cat","cooldown":90,"grams":40}`)

		first, err1 := s.Apply(context.Background(), msg)
		second, err2 := s.Apply(context.Background(), msg)

		Convey("Then both should yield the same settings and both be announced", func() {
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(second, ShouldResemble, first)
			So(rec.count(), ShouldEqual, 2)
		})
	})
}

func TestParseFieldCoercion(t *testing.T) {
	Convey("Given field values in different encodings", t, func() {
		Convey("Then cooldowns should truncate fractions and accept integer strings", func() {
			entries, err := Parse([]byte(`{"species":" CAT ","cooldown":90.9,"grams":"12.5"}`))
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
			So(entries[0].Species, ShouldEqual, species.Cat)
			So(*entries[0].Patch.Cooldown, ShouldEqual, 90)
			So(*entries[0].Patch.Grams, ShouldEqual, 12.5)
			So(entries[0].Rejected, ShouldBeEmpty)

			entries, err = Parse([]byte(`{"species":"dog","cooldown":"45"}`))
			So(err, ShouldBeNil)
			So(*entries[0].Patch.Cooldown, ShouldEqual, 45)
			So(entries[0].Patch.Grams, ShouldBeNil)
		})

		Convey("Then unusable values should be listed as rejected", func() {
			entries, err := Parse([]byte(`{"species":"dog","cooldown":"4.5","grams":"NaN"}`))
			So(err, ShouldBeNil)
			So(entries[0].Patch.IsEmpty(), ShouldBeTrue)
			So(entries[0].Rejected, ShouldResemble, []string{"cooldown", "grams"})
		})

		Convey("Then map entries should be returned in key order", func() {
			entries, err := Parse([]byte(`{"dog":{"grams":1},"cat":{"grams":2}}`))
			So(err, ShouldBeNil)
			So(entries[0].Species, ShouldEqual, species.Cat)
			So(entries[1].Species, ShouldEqual, species.Dog)
		})
	})
}

func TestApplyConcurrentWithReaders(t *testing.T) {
	Convey("Given configuration messages racing with readers", t, func() {
		s, store, _ := newSync()
		var wg sync.WaitGroup

		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = s.Apply(context.Background(), []byte(`{"cat":{"cooldown":10,"grams":10},"dog":{"grams":20}}`))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = store.Get(species.Cat)
			}
		}()
		wg.Wait()

		Convey("Then the final state should be the applied values", func() {
			got, _ := store.Get(species.Cat)
			So(got, ShouldResemble, settings.SpeciesSettings{CooldownSeconds: 10, TargetGrams: 10})
		})
	})
}
