package detector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/iotreat/internal/domain/feeding"
	"github.com/okian/iotreat/internal/domain/species"
)

// box is one classifier result on the wire.
type box struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// frame is one stdout line: either a single result or a list of them.
type frame struct {
	box
	Detections []box `json:"detections"`
}

// Parser turns classifier lines into detections.
type Parser struct {
	labels        map[string]species.Species
	minConfidence float64
}

// NewParser creates a parser with the label table and confidence floor.
func NewParser(opts ...Option) *Parser {
	o := buildOptions(opts)
	return &Parser{labels: o.labels, minConfidence: o.minConfidence}
}

// Parse reads one line. The most confident mapped label at or above the
// floor wins; a line with none yields an empty detection.
func (p *Parser) Parse(line []byte) (feeding.Detection, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return feeding.Detection{}, nil
	}
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		return feeding.Detection{}, fmt.Errorf("%w: %w", ErrMalformedLine, err)
	}

	candidates := f.Detections
	if f.Label != "" {
		candidates = append(candidates, f.box)
	}

	var best feeding.Detection
	for _, b := range candidates {
		sp, ok := p.labels[strings.ToLower(strings.TrimSpace(b.Label))]
		if !ok || b.Confidence < p.minConfidence {
			continue
		}
		if best.None() || b.Confidence > best.Confidence {
			best = feeding.Detection{Species: sp, Confidence: b.Confidence}
		}
	}
	return best, nil
}
