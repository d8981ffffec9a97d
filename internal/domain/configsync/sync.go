// Package configsync applies remote configuration messages to the settings
// store and announces exactly what changed.
package configsync

import (
	"context"
	"errors"

	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

// Updated maps each changed species to its settings after the update.
type Updated map[species.Species]settings.SpeciesSettings

// Store is the part of the settings store ConfigSync writes to.
type Store interface {
	Update(sp species.Species, p settings.Patch) (settings.SpeciesSettings, bool, error)
}

// Option applies a configuration option to the Sync.
type Option func(*Sync)

// WithPublisher sets the sink for settings_updated events.
func WithPublisher(p telemetry.Publisher) Option {
	return func(s *Sync) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock replaces the wall clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Sync) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.log = l
		}
	}
}

// Sync is safe for concurrent use; serialization happens in the store.
type Sync struct {
	store     Store
	publisher telemetry.Publisher
	clock     clock.Clock
	log       logger.Logger
}

// New creates a Sync over store.
func New(store Store, opts ...Option) (*Sync, error) {
	if store == nil {
		return nil, ErrMissingStore
	}
	s := &Sync{
		store:     store,
		publisher: telemetry.Discard,
		clock:     clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("configsync")
	}
	return s, nil
}

// Apply parses raw and applies every valid field. A species is reported as
// updated when at least one of its fields was applied, even if the value was
// already in effect, so repeated messages are confirmed every time. One
// settings_updated event is published for a non-empty result; an empty result
// publishes nothing. Malformed payloads return ErrMalformedMessage with no
// mutation.
func (s *Sync) Apply(ctx context.Context, raw []byte) (Updated, error) {
	const op = "configsync.Apply"

	entries, err := Parse(raw)
	if err != nil {
		metrics.RecordSettingsRejected("malformed")
		s.log.Warn(ctx, "rejected configuration message",
			logger.String("op", op),
			logger.Int("bytes", len(raw)),
			logger.Error(err),
		)
		return nil, err
	}

	updated := make(Updated, len(entries))
	for _, e := range entries {
		for _, field := range e.Rejected {
			metrics.RecordSettingsRejected("invalid_field")
			s.log.Info(ctx, "ignored invalid configuration field",
				logger.String("species", e.Species.String()),
				logger.String("field", field),
			)
		}
		if e.Patch.IsEmpty() {
			continue
		}

		res, applied, err := s.store.Update(e.Species, e.Patch)
		switch {
		case errors.Is(err, settings.ErrUnknownSpecies):
			metrics.RecordSettingsRejected("unknown_species")
			s.log.Info(ctx, "ignored configuration for unknown species", logger.String("species", e.Species.String()))
			continue
		case err != nil:
			s.log.Error(ctx, "settings update failed", logger.String("species", e.Species.String()), logger.Error(err))
			continue
		case !applied:
			metrics.RecordSettingsRejected("invalid_field")
			continue
		}

		updated[e.Species] = res
		metrics.RecordSettingsUpdate(e.Species.String())
		s.log.Info(ctx, "settings updated",
			logger.String("species", e.Species.String()),
			logger.Int("cooldown_s", res.CooldownSeconds),
			logger.Float64("grams", res.TargetGrams),
		)
	}

	if len(updated) == 0 {
		s.log.Debug(ctx, "configuration message changed nothing", logger.String("op", op))
		return updated, nil
	}
	s.publisher.Publish(telemetry.NewSettingsUpdated(s.clock.Now(), updated))
	return updated, nil
}
