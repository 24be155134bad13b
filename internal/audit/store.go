package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/raaihank/phi-sentinel/internal/config"
	"go.uber.org/zap"
)

// Store is the durable backing for the audit log. Implementations keep the
// newest events first and discard the oldest beyond their capacity.
type Store interface {
	Persist(ctx context.Context, event Event) error
	LoadAll(ctx context.Context) ([]Event, error)
}

// OpenStore builds the store selected by cfg.Backend. The returned close
// function releases the backend's connections.
func OpenStore(cfg config.StorageConfig, log *zap.Logger) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.Capacity), func() error { return nil }, nil
	case "redis":
		s, err := NewRedisStore(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres", "sqlite":
		s, err := NewSQLStore(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// MemoryStore keeps events in process memory
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// NewMemoryStore creates a store holding at most capacity events
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultStorageCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Persist(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, Event{})
	copy(s.events[1:], s.events)
	s.events[0] = event
	if len(s.events) > s.capacity {
		s.events = s.events[:s.capacity]
	}
	return nil
}

func (s *MemoryStore) LoadAll(_ context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]Event, len(s.events))
	copy(events, s.events)
	return events, nil
}

// Len returns the number of stored events
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
