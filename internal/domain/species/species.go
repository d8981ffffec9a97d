// Package species defines the feeding decision key.
package species

import (
	"sort"
	"strings"
)

// Species is an opaque classification label such as "cat" or "dog".
type Species string

// Defaults shipped with the device.
const (
	Cat   Species = "cat"
	Dog   Species = "dog"
	Human Species = "human"
)

// Normalize lowercases and trims a label coming from the wire.
func Normalize(label string) Species {
	return Species(strings.ToLower(strings.TrimSpace(label)))
}

// String implements fmt.Stringer.
func (s Species) String() string { return string(s) }

// Set is a membership set of species.
type Set map[Species]struct{}

// NewSet builds a set from labels, normalizing each one.
func NewSet(labels ...string) Set {
	s := make(Set, len(labels))
	for _, l := range labels {
		if sp := Normalize(l); sp != "" {
			s[sp] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s Set) Has(sp Species) bool {
	_, ok := s[sp]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []Species {
	out := make([]Species, 0, len(s))
	for sp := range s {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
