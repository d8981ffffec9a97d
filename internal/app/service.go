// Package service wires the feeder domain together and exposes what the
// daemon, the MQTT subscription and the HTTP API need.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	eventqueue "github.com/okian/iotreat/internal/adapters/mq/queue"
	workerpool "github.com/okian/iotreat/internal/adapters/mq/worker"
	"github.com/okian/iotreat/internal/adapters/repository"
	"github.com/okian/iotreat/internal/domain/configsync"
	"github.com/okian/iotreat/internal/domain/cooldown"
	"github.com/okian/iotreat/internal/domain/dispense"
	"github.com/okian/iotreat/internal/domain/feeding"
	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/clock"
	"github.com/okian/iotreat/pkg/logger"
)

// Service owns the feeder's runtime state: settings, cooldowns, the dispense
// controller, the detection loop and the telemetry publisher.
type Service struct {
	mu sync.RWMutex

	// Core components
	settings     *settings.Store
	gate         *cooldown.Gate
	dispenser    *dispense.Controller
	configSync   *configsync.Sync
	orchestrator *feeding.Orchestrator
	eventQueue   *eventqueue.InMemoryQueue
	publisher    *workerpool.InMemoryWorker
	sink         workerpool.Sink
	history      repository.Store

	// Configuration
	deviceID         string
	eligible         species.Set
	queueSize        int
	dispenseTimeout  time.Duration
	pollInterval     time.Duration
	progressInterval time.Duration
	frameInterval    time.Duration
	publishTimeout   time.Duration
	clock            clock.Clock
	newID            func() string

	// State
	started      bool
	stopped      bool
	cancelWorker context.CancelFunc

	// Logging
	logger logger.Logger
}

// New builds a service over the actuator and sensor. defaults seeds the
// settings store and fixes the set of known species.
func New(defaults map[species.Species]settings.SpeciesSettings, actuator dispense.Actuator, sensor dispense.Sensor, opts ...Option) (*Service, error) {
	s := &Service{
		deviceID:  "iotreat",
		queueSize: 256,
		clock:     clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.sink == nil {
		s.sink = workerpool.NewLogSink(nil)
	}

	store, err := settings.New(defaults)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	s.settings = store
	s.gate = cooldown.New(store)

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.publisher = workerpool.NewInMemoryWorker(s.eventQueue, s.sink,
		workerpool.WithPublishTimeout(s.publishTimeout),
	)

	dispenseOpts := []dispense.Option{
		dispense.WithClock(s.clock),
		dispense.WithPublisher(s.eventQueue),
		dispense.WithTimeout(s.dispenseTimeout),
		dispense.WithPollInterval(s.pollInterval),
		dispense.WithProgressInterval(s.progressInterval),
		dispense.WithIDGenerator(s.newID),
	}
	if s.dispenser, err = dispense.New(store, actuator, sensor, dispenseOpts...); err != nil {
		return nil, fmt.Errorf("dispense controller: %w", err)
	}

	s.configSync, err = configsync.New(store,
		configsync.WithClock(s.clock),
		configsync.WithPublisher(s.eventQueue),
	)
	if err != nil {
		return nil, fmt.Errorf("config sync: %w", err)
	}

	s.orchestrator, err = feeding.New(s.gate, s.dispenser,
		feeding.WithEligible(s.eligible),
		feeding.WithPublisher(s.eventQueue),
		feeding.WithHistory(s.history),
		feeding.WithClock(s.clock),
		feeding.WithFrameInterval(s.frameInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	return s, nil
}

// Start launches the telemetry publisher and announces device_ready with the
// settings in effect.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelWorker = cancel
	go s.publisher.Run(wctx)

	ready := telemetry.NewDeviceReady(s.clock.Now(), s.settings.Snapshot())
	if s.deviceID != "" {
		ready.Body["device_id"] = s.deviceID
	}
	s.eventQueue.Publish(ready)

	s.started = true
	s.logger.Info(ctx, "feeder service started",
		logger.String("device_id", s.deviceID),
		logger.Int("queueSize", s.eventQueue.Capacity()),
		logger.Any("eligible", s.eligibleNames()),
	)
	return nil
}

// Stop closes the telemetry queue and waits for the publisher to drain it.
// If ctx expires first the remaining events are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping feeder service...")

	_ = s.eventQueue.Close()
	err := s.publisher.Shutdown(ctx)
	s.cancelWorker()

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "feeder service stopped")
	if err != nil {
		return fmt.Errorf("drain telemetry: %w", err)
	}
	return nil
}

// Run drives the detection loop until ctx is cancelled or d stops.
func (s *Service) Run(ctx context.Context, d feeding.Detector) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return s.orchestrator.Run(ctx, d)
}

// HandleDetection runs a single detection cycle outside the loop.
func (s *Service) HandleDetection(ctx context.Context, det feeding.Detection) feeding.Result {
	return s.orchestrator.HandleDetection(ctx, det)
}

// OnConfigMessage is the settings topic callback. Malformed payloads are
// logged and dropped; the device keeps its current settings.
func (s *Service) OnConfigMessage(ctx context.Context, topic string, payload []byte) {
	updated, err := s.ApplyConfig(ctx, payload)
	if err != nil {
		s.logger.Debug(ctx, "settings message dropped", logger.String("topic", topic), logger.Error(err))
		return
	}
	if len(updated) == 0 {
		s.logger.Debug(ctx, "settings message changed nothing", logger.String("topic", topic))
		return
	}
	s.logger.Info(ctx, "settings message applied",
		logger.String("topic", topic),
		logger.Int("species", len(updated)),
	)
}

// ApplyConfig applies a raw ConfigUpdateMessage.
func (s *Service) ApplyConfig(ctx context.Context, raw []byte) (configsync.Updated, error) {
	return s.configSync.Apply(ctx, raw)
}

// Settings returns a snapshot of the current settings.
func (s *Service) Settings() map[species.Species]settings.SpeciesSettings {
	return s.settings.Snapshot()
}

// Cooldown returns the cooldown status of sp at the current time.
func (s *Service) Cooldown(sp species.Species) (cooldown.Status, error) {
	return s.gate.Status(sp, s.clock.Now())
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	now := s.clock.Now()
	cooldowns := make(map[string]any)
	for _, sp := range s.settings.Species() {
		st, err := s.gate.Status(sp, now)
		if err != nil {
			continue
		}
		cooldowns[sp.String()] = map[string]any{
			"can_feed":          st.CanFeed,
			"never_fed":         st.NeverFed,
			"cooldown_seconds":  st.Cooldown.Seconds(),
			"remaining_seconds": st.Remaining.Seconds(),
		}
	}

	stats := map[string]any{
		"started":       started,
		"deviceId":      s.deviceID,
		"eligible":      s.eligibleNames(),
		"queueLength":   s.eventQueue.Len(ctx),
		"queueCapacity": s.eventQueue.Capacity(),
		"cooldowns":     cooldowns,
		"feeding":       s.orchestrator.Stats(),
	}

	if s.history != nil {
		if n, err := s.history.Count(ctx); err == nil {
			stats["historyCount"] = n
		} else {
			s.logger.Warn(ctx, "history count failed", logger.Error(err))
		}
	}
	return stats
}

func (s *Service) eligibleNames() []string {
	set := s.eligible
	if len(set) == 0 {
		set = make(species.Set)
		for _, sp := range s.settings.Species() {
			set[sp] = struct{}{}
		}
	}
	sorted := set.Sorted()
	names := make([]string, len(sorted))
	for i, sp := range sorted {
		names[i] = sp.String()
	}
	return names
}
