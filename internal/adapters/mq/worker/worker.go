// Package worker drains the telemetry queue into a transport sink.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultPublishTimeout = 5 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = telemetry.Event

// Sink delivers one event to the outside world.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is drained
	// after Close.
	Run(ctx context.Context)

	// Shutdown waits for Run to finish.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker is the single telemetry publisher. One worker per queue
// keeps events in the order they were published.
type InMemoryWorker struct {
	queue          Queue
	sink           Sink
	name           string
	publishTimeout time.Duration

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:          queue,
		sink:           sink,
		name:           "telemetry-publisher",
		publishTimeout: defaultPublishTimeout,
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop. It returns when ctx is cancelled, Shutdown
// aborts it, or the queue is closed and fully drained.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Warn(ctx, "telemetry publish failed", logger.Error(err))
			}
		}
	}
}

// Shutdown waits for the worker to drain. If ctx expires first the worker is
// stopped with events still queued.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.stopOnce.Do(func() { close(w.shutdown) })
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// processEvent hands a single event to the sink.
func (w *InMemoryWorker) processEvent(ctx context.Context, event Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	pctx, cancel := context.WithTimeout(ctx, w.publishTimeout)
	defer cancel()

	if err := w.sink.Send(pctx, event); err != nil {
		metrics.RecordTelemetryPublishError()
		return fmt.Errorf("publish %s: %w", event.Name, err)
	}
	metrics.RecordTelemetryPublished()
	return nil
}

// LogSink writes events to the log. It is used when no broker is configured.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a sink that logs each event as JSON.
func NewLogSink(l logger.Logger) *LogSink {
	if l == nil {
		l = logger.Get().Named("telemetry")
	}
	return &LogSink{logger: l}
}

// Send logs the encoded event.
func (s *LogSink) Send(ctx context.Context, ev Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	s.logger.Info(ctx, "telemetry", logger.String("event", string(ev.Name)), logger.String("payload", string(raw)))
	return nil
}
