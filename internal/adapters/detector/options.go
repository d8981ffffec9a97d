package detector

import (
	"strings"

	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/pkg/logger"
)

// DefaultMinConfidence drops low-confidence classifier output.
const DefaultMinConfidence = 0.5

type options struct {
	labels        map[string]species.Species
	minConfidence float64
	log           logger.Logger
}

// Option applies a configuration option to a detector.
type Option func(*options)

// WithLabels maps classifier labels to species, e.g. "person" -> "human".
// Labels missing from the table are ignored.
func WithLabels(labels map[string]string) Option {
	return func(o *options) {
		if len(labels) == 0 {
			return
		}
		o.labels = make(map[string]species.Species, len(labels))
		for label, sp := range labels {
			o.labels[strings.ToLower(strings.TrimSpace(label))] = species.Normalize(sp)
		}
	}
}

// WithMinConfidence sets the confidence floor.
func WithMinConfidence(c float64) Option {
	return func(o *options) {
		if c >= 0 && c <= 1 {
			o.minConfidence = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		labels: map[string]species.Species{
			"cat":    species.Cat,
			"dog":    species.Dog,
			"person": species.Human,
		},
		minConfidence: DefaultMinConfidence,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("detector")
	}
	return o
}
