package service

import (
	"time"

	workerpool "github.com/okian/iotreat/internal/adapters/mq/worker"
	"github.com/okian/iotreat/internal/adapters/repository"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDeviceID sets the id announced in device_ready.
func WithDeviceID(id string) Option {
	return func(s *Service) {
		s.deviceID = id
	}
}

// WithEligible restricts which species trigger a dispense. An empty set
// keeps every configured species eligible.
func WithEligible(set species.Set) Option {
	return func(s *Service) {
		s.eligible = set
	}
}

// WithQueueSize sets the capacity of the telemetry queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDispenseTimings sets the safety timeout, the poll interval and the
// progress spacing of the dispense controller. Zero values keep the defaults.
func WithDispenseTimings(timeout, poll, progress time.Duration) Option {
	return func(s *Service) {
		s.dispenseTimeout = timeout
		s.pollInterval = poll
		s.progressInterval = progress
	}
}

// WithFrameInterval sets the pause between detection cycles.
func WithFrameInterval(d time.Duration) Option {
	return func(s *Service) {
		s.frameInterval = d
	}
}

// WithPublishTimeout bounds each telemetry delivery.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.publishTimeout = d
	}
}

// WithSink sets where telemetry is delivered. The default logs each event.
func WithSink(sink workerpool.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithHistory records every dispense attempt in h.
func WithHistory(h repository.Store) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator replaces the attempt id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
