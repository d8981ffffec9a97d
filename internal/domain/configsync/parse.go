package configsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
)

// Message keys.
const (
	keySpecies  = "species"
	keyCooldown = "cooldown"
	keyGrams    = "grams"
)

// Entry is one species patch parsed from a message.
type Entry struct {
	Species species.Species
	Patch   settings.Patch
	// Rejected lists fields that were present but unusable.
	Rejected []string
}

// Parse decodes a configuration message in the flat shape
// {"species": "cat", "cooldown": 90, "grams": 40} or the map shape
// {"cat": {"cooldown": 90}, "dog": {"grams": 30}}. The flat shape is chosen
// whenever a top-level "species" key exists. Unusable field values are
// dropped per field; only a payload that is not a JSON object is malformed.
// A flat species that is not a string is taken by its text form and so names
// an unknown species.
func Parse(raw []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var top map[string]any
	if err := dec.Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: top level must be an object", ErrMalformedMessage)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedMessage)
	}

	if v, ok := top[keySpecies]; ok {
		name, ok := v.(string)
		if !ok {
			name = fmt.Sprint(v)
		}
		return []Entry{parseFields(species.Normalize(name), top)}, nil
	}

	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		sp := species.Normalize(k)
		fields, ok := top[k].(map[string]any)
		if !ok {
			entries = append(entries, Entry{Species: sp, Rejected: []string{k}})
			continue
		}
		entries = append(entries, parseFields(sp, fields))
	}
	return entries, nil
}

func parseFields(sp species.Species, fields map[string]any) Entry {
	e := Entry{Species: sp}
	if v, ok := fields[keyCooldown]; ok {
		if cd, ok := toCooldown(v); ok {
			e.Patch.Cooldown = &cd
		} else {
			e.Rejected = append(e.Rejected, keyCooldown)
		}
	}
	if v, ok := fields[keyGrams]; ok {
		if g, ok := toGrams(v); ok {
			e.Patch.Grams = &g
		} else {
			e.Rejected = append(e.Rejected, keyGrams)
		}
	}
	return e
}

// toCooldown accepts whole seconds as a JSON number (fractions truncate toward
// zero) or a decimal integer string. Negative values are rejected.
func toCooldown(v any) (int, bool) {
	var n int64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n = i
		} else {
			f, err := t.Float64()
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
				return 0, false
			}
			n = int64(f)
		}
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		n = int64(i)
	default:
		return 0, false
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// toGrams accepts a finite non-negative JSON number or numeric string.
func toGrams(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
