// Package settings holds the live per-species feeding parameters shared between
// the control loop and the configuration subscriber.
package settings

import (
	"fmt"
	"math"
	"sync"

	"github.com/okian/iotreat/internal/domain/species"
)

// SpeciesSettings are the feeding parameters of one species.
type SpeciesSettings struct {
	CooldownSeconds int     `json:"cooldown"`
	TargetGrams     float64 `json:"grams"`
}

// Patch carries the optional fields of an update. Nil fields are left alone.
type Patch struct {
	Cooldown *int
	Grams    *float64
}

// IsEmpty reports whether the patch names no field.
func (p Patch) IsEmpty() bool { return p.Cooldown == nil && p.Grams == nil }

// Store maps species to settings under a single read/write guard. The key set
// is fixed at construction.
type Store struct {
	mu       sync.RWMutex
	settings map[species.Species]SpeciesSettings
}

// New creates a store seeded with defaults.
func New(defaults map[species.Species]SpeciesSettings) (*Store, error) {
	if len(defaults) == 0 {
		return nil, ErrNoDefaults
	}
	m := make(map[species.Species]SpeciesSettings, len(defaults))
	for sp, s := range defaults {
		if sp == "" || s.CooldownSeconds < 0 || !validGrams(s.TargetGrams) {
			return nil, fmt.Errorf("%w: %q %+v", ErrInvalidDefault, sp, s)
		}
		m[sp] = s
	}
	return &Store{settings: m}, nil
}

// Get returns a consistent copy of the settings for sp.
func (s *Store) Get(sp species.Species) (SpeciesSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[sp]
	if !ok {
		return SpeciesSettings{}, fmt.Errorf("%w: %q", ErrUnknownSpecies, sp)
	}
	return v, nil
}

// Has reports whether sp is a configured species.
func (s *Store) Has(sp species.Species) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.settings[sp]
	return ok
}

// Update applies the valid fields of p to sp. Negative or non-finite values are
// dropped without error. The returned bool is true when at least one field was
// applied; the returned settings are the full post-update value.
func (s *Store) Update(sp species.Species, p Patch) (SpeciesSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.settings[sp]
	if !ok {
		return SpeciesSettings{}, false, fmt.Errorf("%w: %q", ErrUnknownSpecies, sp)
	}

	applied := false
	if p.Cooldown != nil && *p.Cooldown >= 0 {
		cur.CooldownSeconds = *p.Cooldown
		applied = true
	}
	if p.Grams != nil && validGrams(*p.Grams) {
		cur.TargetGrams = *p.Grams
		applied = true
	}
	if applied {
		s.settings[sp] = cur
	}
	return cur, applied, nil
}

// Snapshot copies the whole map.
func (s *Store) Snapshot() map[species.Species]SpeciesSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[species.Species]SpeciesSettings, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

// Species lists the configured species in lexical order.
func (s *Store) Species() []species.Species {
	s.mu.RLock()
	set := make(species.Set, len(s.settings))
	for k := range s.settings {
		set[k] = struct{}{}
	}
	s.mu.RUnlock()
	return set.Sorted()
}

func validGrams(g float64) bool {
	return g >= 0 && !math.IsInf(g, 0) && !math.IsNaN(g)
}
