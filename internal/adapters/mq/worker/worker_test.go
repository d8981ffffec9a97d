package worker_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/iotreat/internal/adapters/mq/queue"
	worker "github.com/okian/iotreat/internal/adapters/mq/worker"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	logging "github.com/okian/iotreat/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockSink struct {
	mu     sync.Mutex
	sent   []telemetry.Event
	failOn telemetry.Name
	block  bool
}

func (s *mockSink) Send(ctx context.Context, ev telemetry.Event) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Name == s.failOn {
		return errors.New("broker unreachable")
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *mockSink) names() []telemetry.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]telemetry.Name, 0, len(s.sent))
	for _, ev := range s.sent {
		out = append(out, ev.Name)
	}
	return out
}

func event(n telemetry.Name) telemetry.Event {
	return telemetry.New(n, time.UnixMilli(1), map[string]any{"species": "cat"})
}

func waitDone(w *worker.InMemoryWorker) bool {
	select {
	case <-w.Done():
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a queue drained by a telemetry worker", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		sink := &mockSink{}

		convey.Convey("When events are published and the queue is closed", func() {
			w := worker.NewInMemoryWorker(q, sink, worker.WithName("test-publisher"))
			go w.Run(context.Background())

			q.Publish(event(telemetry.SpeciesDetected))
			q.Publish(event(telemetry.DispenseStart))
			q.Publish(event(telemetry.DispenseDone))
			_ = q.Close()

			convey.Convey("Then every event should reach the sink in order and Run should return", func() {
				convey.So(waitDone(w), convey.ShouldBeTrue)
				convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
				convey.So(sink.names(), convey.ShouldResemble, []telemetry.Name{
					telemetry.SpeciesDetected,
					telemetry.DispenseStart,
					telemetry.DispenseDone,
				})
			})
		})

		convey.Convey("When the sink fails for one event", func() {
			sink.failOn = telemetry.DispenseStart
			w := worker.NewInMemoryWorker(q, sink)
			go w.Run(context.Background())

			q.Publish(event(telemetry.SpeciesDetected))
			q.Publish(event(telemetry.DispenseStart))
			q.Publish(event(telemetry.DispenseDone))
			_ = q.Close()

			convey.Convey("Then the failure should be skipped without stopping the worker", func() {
				convey.So(waitDone(w), convey.ShouldBeTrue)
				convey.So(sink.names(), convey.ShouldResemble, []telemetry.Name{
					telemetry.SpeciesDetected,
					telemetry.DispenseDone,
				})
			})
		})

		convey.Convey("When the sink hangs past the publish timeout", func() {
			sink.block = true
			w := worker.NewInMemoryWorker(q, sink, worker.WithPublishTimeout(10*time.Millisecond))
			go w.Run(context.Background())

			q.Publish(event(telemetry.SpeciesDetected))
			q.Publish(event(telemetry.DispenseDone))
			_ = q.Close()

			convey.Convey("Then each publish should be abandoned and the worker finish", func() {
				convey.So(waitDone(w), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When shutdown times out with events still queued", func() {
			sink.block = true
			w := worker.NewInMemoryWorker(q, sink, worker.WithPublishTimeout(time.Hour))
			go w.Run(context.Background())
			q.Publish(event(telemetry.SpeciesDetected))

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err := w.Shutdown(ctx)

			convey.Convey("Then Shutdown should report the timeout", func() {
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the run context is cancelled", func() {
			w := worker.NewInMemoryWorker(q, sink)
			ctx, cancel := context.WithCancel(context.Background())
			go w.Run(ctx)
			cancel()

			convey.Convey("Then Run should return", func() {
				convey.So(waitDone(w), convey.ShouldBeTrue)
			})
		})
	})
}

func TestLogSink(t *testing.T) {
	convey.Convey("Given a log sink", t, func() {
		var buf bytes.Buffer
		convey.So(logging.Init(logging.WithFormat("json"), logging.WithOutput(&buf)), convey.ShouldBeNil)
		sink := worker.NewLogSink(nil)

		convey.Convey("When an event is sent", func() {
			err := sink.Send(context.Background(), telemetry.NewSpeciesDetected(time.UnixMilli(42), species.Dog))

			convey.Convey("Then the encoded payload should be logged", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(buf.String(), convey.ShouldContainSubstring, `species_detected`)
				convey.So(buf.String(), convey.ShouldContainSubstring, `\"ts\":42`)
			})
		})
	})
}
