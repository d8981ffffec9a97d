package operator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/iotreat/internal/domain/configsync"
	"github.com/okian/iotreat/internal/domain/species"
)

type flatMessage struct {
	Species  string   `json:"species"`
	Cooldown *int     `json:"cooldown,omitempty"`
	Grams    *float64 `json:"grams,omitempty"`
}

// FlatMessage builds a single-species settings message. Nil fields are left
// out so the device keeps their current values.
func FlatMessage(sp string, cooldown *int, grams *float64) ([]byte, error) {
	sp = strings.TrimSpace(sp)
	if sp == "" {
		return nil, ErrNoSpecies
	}
	if cooldown == nil && grams == nil {
		return nil, ErrNoFields
	}
	return json.Marshal(flatMessage{Species: sp, Cooldown: cooldown, Grams: grams})
}

// MapMessage validates raw as a settings message and returns it compacted.
func MapMessage(raw string) ([]byte, error) {
	if _, err := configsync.Parse([]byte(raw)); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", configsync.ErrMalformedMessage, err)
	}
	return buf.Bytes(), nil
}

// Rejections lists the fields the device will drop from payload, as
// "species.field" (or just the key when a whole entry is unusable).
func Rejections(payload []byte) []string {
	entries, err := configsync.Parse(payload)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		for _, f := range e.Rejected {
			if species.Normalize(f) == e.Species {
				out = append(out, f)
				continue
			}
			out = append(out, e.Species.String()+"."+f)
		}
	}
	return out
}
