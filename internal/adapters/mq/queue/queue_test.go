package queue

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.WithOutput(io.Discard))
	os.Exit(m.Run())
}

func detected(sp species.Species) Event {
	return telemetry.NewSpeciesDetected(time.UnixMilli(1), sp)
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, detected(species.Cat)) {
		t.Error("expected enqueue to succeed")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	event := <-q.Dequeue(ctx)
	if event.Body["species"] != "cat" {
		t.Errorf("expected cat, got %v", event.Body["species"])
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if q.Capacity() != 2 {
		t.Fatalf("expected capacity 2, got %d", q.Capacity())
	}
	if !q.Enqueue(ctx, detected(species.Cat)) || !q.Enqueue(ctx, detected(species.Dog)) {
		t.Fatal("expected first two enqueues to succeed")
	}

	// A full queue drops instead of blocking the caller.
	start := time.Now()
	if q.Enqueue(ctx, detected(species.Human)) {
		t.Error("expected enqueue to fail when full")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("enqueue on a full queue must not block")
	}

	q.Publish(detected(species.Human))
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_PreservesOrder(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(16))
	ctx := context.Background()

	names := []telemetry.Name{
		telemetry.SpeciesDetected,
		telemetry.DispenseStart,
		telemetry.DispenseProgress,
		telemetry.DispenseDone,
	}
	for _, n := range names {
		q.Publish(telemetry.New(n, time.UnixMilli(1), nil))
	}
	_ = q.Close()

	var got []telemetry.Name
	for ev := range q.Dequeue(ctx) {
		got = append(got, ev.Name)
	}
	if len(got) != len(names) {
		t.Fatalf("expected %d events, got %d", len(names), len(got))
	}
	for i := range names {
		if got[i] != names[i] {
			t.Errorf("event %d: expected %s, got %s", i, names[i], got[i])
		}
	}
}

func TestInMemoryQueue_ConcurrentPublish(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	numGoroutines := 10
	numEvents := 100

	var received sync.WaitGroup
	received.Add(numGoroutines * numEvents)
	go func() {
		for range q.Dequeue(ctx) {
			received.Done()
		}
	}()

	var producers sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		producers.Add(1)
		go func() {
			defer producers.Done()
			for j := 0; j < numEvents; j++ {
				for !q.Enqueue(ctx, detected(species.Cat)) {
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}
	producers.Wait()

	done := make(chan struct{})
	go func() {
		received.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not receive every event")
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, detected(species.Cat)) || !q.Enqueue(ctx, detected(species.Dog)) {
		t.Fatal("expected enqueue to succeed")
	}

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got error: %v", err)
	}

	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}

	if q.Enqueue(ctx, detected(species.Cat)) {
		t.Error("expected enqueue to fail after closing")
	}
	q.Publish(detected(species.Cat))

	// Buffered events are still delivered, then the channel closes.
	count := 0
	timeout := time.After(100 * time.Millisecond)
	ch := q.Dequeue(ctx)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if count != 2 {
					t.Errorf("expected 2 drained events, got %d", count)
				}
				return
			}
			count++
		case <-timeout:
			t.Fatal("timeout waiting for dequeue channel to close")
		}
	}
}
