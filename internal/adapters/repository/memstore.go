package repository

import (
	"context"
	"sync"

	"github.com/okian/iotreat/internal/domain/model"
)

// MemStore keeps the most recent attempts in a fixed-size ring.
type MemStore struct {
	mu     sync.RWMutex
	ring   []model.Attempt
	next   int
	size   int
	closed bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an in-memory store.
func NewMemStore(opts ...Option) *MemStore {
	o := buildOptions(opts)
	return &MemStore{ring: make([]model.Attempt, o.capacity)}
}

// Append records a, evicting the oldest attempt when full.
func (s *MemStore) Append(_ context.Context, a model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.ring[s.next] = a
	s.next = (s.next + 1) % len(s.ring)
	if s.size < len(s.ring) {
		s.size++
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *MemStore) Recent(_ context.Context, limit int) ([]model.Attempt, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := min(limit, s.size)
	out := make([]model.Attempt, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

// Count returns the number of attempts held.
func (s *MemStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

// Close marks the store closed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
