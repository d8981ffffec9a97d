// Package cooldown decides whether a species may be fed now.
package cooldown

import (
	"fmt"
	"sync"
	"time"

	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
)

// SettingsReader is the part of the settings store the gate needs.
type SettingsReader interface {
	Get(sp species.Species) (settings.SpeciesSettings, error)
}

// Status describes the cooldown of one species at a point in time.
type Status struct {
	Species   species.Species
	Cooldown  time.Duration
	Elapsed   time.Duration
	Remaining time.Duration
	LastFedAt time.Time
	NeverFed  bool
	CanFeed   bool
}

// Gate owns the last-fed timestamps. The cooldown length is read from the
// settings store on every call, so changes apply to waits already in progress.
type Gate struct {
	settings SettingsReader

	mu      sync.Mutex
	lastFed map[species.Species]time.Time
}

// New creates a gate where every species is immediately eligible.
func New(s SettingsReader) *Gate {
	return &Gate{
		settings: s,
		lastFed:  make(map[species.Species]time.Time),
	}
}

// CanFeed reports whether now - last_fed_at(sp) >= cooldown(sp). A species
// that was never fed is always eligible.
func (g *Gate) CanFeed(sp species.Species, now time.Time) (bool, error) {
	st, err := g.Status(sp, now)
	if err != nil {
		return false, err
	}
	return st.CanFeed, nil
}

// MarkFed records now as the last feed of sp.
func (g *Gate) MarkFed(sp species.Species, now time.Time) {
	g.mu.Lock()
	g.lastFed[sp] = now
	g.mu.Unlock()
}

// Status computes the cooldown state of sp at now.
func (g *Gate) Status(sp species.Species, now time.Time) (Status, error) {
	cfg, err := g.settings.Get(sp)
	if err != nil {
		return Status{}, fmt.Errorf("cooldown status: %w", err)
	}

	g.mu.Lock()
	last, fed := g.lastFed[sp]
	g.mu.Unlock()

	st := Status{
		Species:  sp,
		Cooldown: time.Duration(cfg.CooldownSeconds) * time.Second,
		NeverFed: !fed,
	}
	if !fed {
		st.CanFeed = true
		return st, nil
	}

	st.LastFedAt = last
	st.Elapsed = now.Sub(last)
	st.CanFeed = st.Elapsed >= st.Cooldown
	if !st.CanFeed {
		st.Remaining = st.Cooldown - st.Elapsed
	}
	return st, nil
}
