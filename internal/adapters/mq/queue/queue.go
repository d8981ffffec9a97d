// Package queue buffers outbound telemetry between the control loop and the
// publisher worker.
//
// Enqueue never blocks: a full or closed queue drops the event so a slow or
// disconnected broker cannot stall feeding.
package queue

import (
	"context"
	"sync"

	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 256
)

// Event is the payload type flowing through the queue.
type Event = telemetry.Event

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event to the queue.
	// Returns false if the queue is full or closed and the event was dropped.
	Enqueue(ctx context.Context, e Event) bool

	// Dequeue returns a channel that will receive events as they become available.
	// The channel will be closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Event

	// Len returns the current number of queued events.
	Len(ctx context.Context) int

	// Close stops accepting events. Buffered events can still be dequeued.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel. It also satisfies
// telemetry.Publisher so domain components can publish into it directly.
type InMemoryQueue struct {
	events   chan Event
	capacity int
	log      logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}

	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = logger.Get().Named("telemetry-queue")
	}

	q.events = make(chan Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)

	return q
}

// Enqueue adds an event to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordTelemetryDropped()
		return false
	}

	select {
	case q.events <- e:
		metrics.RecordTelemetryEnqueued()
		metrics.UpdateQueueSize(len(q.events))
		return true
	case <-ctx.Done():
		metrics.RecordTelemetryDropped()
		return false
	default:
		metrics.RecordTelemetryDropped()
		return false
	}
}

// Publish implements telemetry.Publisher. Dropped events are logged.
func (q *InMemoryQueue) Publish(e Event) { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	ctx := context.Background()
	if q.Enqueue(ctx, e) {
		return
	}
	reason := ErrFull
	if q.IsClosed() {
		reason = ErrClosed
	}
	q.log.Warn(ctx, "telemetry event dropped",
		logger.String("event", string(e.Name)),
		logger.Error(reason),
	)
}

// Dequeue returns a channel that will receive events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for event := range q.events {
			select {
			case out <- event:
				metrics.UpdateQueueSize(len(q.events))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	return size
}

// Capacity returns the configured capacity.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil // already closed
	}

	close(q.events)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
