package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unibosoft/quakefeed/internal/quake"
)

// MemoryStore is an in-process EventStore for local development and tests.
// It provides the same insert-if-absent guarantee as the Firestore store,
// just behind a mutex instead of a database.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]quake.Event
}

var _ EventStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]quake.Event)}
}

// UpsertIfNew stores the event unless its key is already present.
func (s *MemoryStore) UpsertIfNew(_ context.Context, e *quake.Event) (bool, *quake.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.events[e.Key()]; ok {
		out := existing
		return false, &out, nil
	}
	s.events[e.Key()] = *e
	return true, e, nil
}

// QueryRecent returns events with occurred_at inside the window, newest
// first.
func (s *MemoryStore) QueryRecent(_ context.Context, window time.Duration) ([]quake.Event, error) {
	cutoff := time.Now().Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []quake.Event
	for _, e := range s.events {
		if !e.OccurredAt.Before(cutoff) {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].OccurredAt.After(events[j].OccurredAt)
	})
	return events, nil
}

// Len reports the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
