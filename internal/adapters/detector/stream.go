// Package detector feeds classifier output into the feeding loop. The
// classifier runs as its own process and writes one JSON object per frame.
package detector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/okian/iotreat/internal/domain/feeding"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

const maxLineBytes = 1 << 20

// Stream reads detections from r. Only the newest unread detection is kept:
// of the frames produced while a dispense is running, the last one is handled
// afterwards and the rest are dropped.
type Stream struct {
	parser  *Parser
	log     logger.Logger
	results chan feeding.Detection

	mu  sync.Mutex
	err error
}

var _ feeding.Detector = (*Stream)(nil)

// NewStream starts reading r in the background until EOF.
func NewStream(r io.Reader, opts ...Option) *Stream {
	o := buildOptions(opts)
	s := &Stream{
		parser:  &Parser{labels: o.labels, minConfidence: o.minConfidence},
		log:     o.log,
		results: make(chan feeding.Detection, 1),
	}
	go s.read(r)
	return s
}

func (s *Stream) read(r io.Reader) {
	ctx := context.Background()
	defer close(s.results)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		det, err := s.parser.Parse(sc.Bytes())
		if err != nil {
			metrics.RecordDetectorError()
			s.log.Warn(ctx, "skipping detector line", logger.Error(err))
			continue
		}
		s.offer(det)
	}
	if err := sc.Err(); err != nil {
		s.setErr(err)
	}
}

// offer replaces any unread detection with det.
func (s *Stream) offer(det feeding.Detection) {
	select {
	case s.results <- det:
		return
	default:
	}
	select {
	case <-s.results:
	default:
	}
	s.results <- det
}

// Detect returns the next detection. After the input ends it returns
// feeding.ErrDetectorStopped.
func (s *Stream) Detect(ctx context.Context) (feeding.Detection, error) {
	select {
	case <-ctx.Done():
		return feeding.Detection{}, ctx.Err()
	case det, ok := <-s.results:
		if !ok {
			if err := s.Err(); err != nil {
				return feeding.Detection{}, fmt.Errorf("%w: %w", feeding.ErrDetectorStopped, err)
			}
			return feeding.Detection{}, feeding.ErrDetectorStopped
		}
		return det, nil
	}
}

// Err returns why reading stopped, if it failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}
