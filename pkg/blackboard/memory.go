package blackboard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store guarded by a single store-wide lock.
// Mutations take the write lock; reads share the read lock and return copies.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*Item
	order   []string // insertion order, for stable listings
	weights Weights
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil weights table uses DefaultWeights.
func NewMemoryStore(weights Weights) *MemoryStore {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &MemoryStore{
		items:   make(map[string]*Item),
		weights: weights,
		now:     time.Now,
	}
}

// Post creates a new pending item.
func (s *MemoryStore) Post(ctx context.Context, kind string, payload Payload) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("item kind cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := NewItemID(kind, payload, now)
	for _, taken := s.items[id]; taken; _, taken = s.items[id] {
		id = NewItemID(kind, payload, now)
	}

	s.items[id] = newItem(id, kind, payload, now)
	s.order = append(s.order, id)
	return id, nil
}

// Get returns a copy of the item.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, notFound(id)
	}
	return it.Clone(), nil
}

// ApplyOutcome folds an agent outcome into the item under the write lock.
func (s *MemoryStore) ApplyOutcome(ctx context.Context, id string, role Role, o *Outcome) error {
	if o == nil {
		return fmt.Errorf("outcome cannot be nil")
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid outcome from %s: %w", role, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return notFound(id)
	}
	if it.State.IsTerminal() {
		return nil
	}
	applyOutcome(it, role, o, s.now())
	return nil
}

// SetState validates and applies a state transition.
func (s *MemoryStore) SetState(ctx context.Context, id string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return notFound(id)
	}
	if !CanTransition(it.State, state) {
		return invalidTransition(it.State, state)
	}
	it.State = state
	it.UpdatedAt = s.now()
	return nil
}

// IncrementRevision bumps the revision counter of a non-terminal item.
func (s *MemoryStore) IncrementRevision(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return 0, notFound(id)
	}
	if it.State.IsTerminal() {
		return it.RevisionCount, invalidTransition(it.State, StateNeedsRevision)
	}
	it.RevisionCount++
	it.UpdatedAt = s.now()
	return it.RevisionCount, nil
}

// AggregateQuality returns the weighted quality of the item.
func (s *MemoryStore) AggregateQuality(ctx context.Context, id string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return 0, notFound(id)
	}
	return AggregateQuality(it.QualityScores, s.weights), nil
}

// ListByState returns copies of the items in the given state.
func (s *MemoryStore) ListByState(ctx context.Context, state State, kind string) ([]*Item, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Item
	for _, id := range s.order {
		it := s.items[id]
		if it.State != state {
			continue
		}
		if kind != "" && it.Kind != kind {
			continue
		}
		out = append(out, it.Clone())
	}
	return out, nil
}

// List returns copies of all items in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

// Statistics computes the counters under the read lock without copying items.
func (s *MemoryStore) Statistics(ctx context.Context) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, s.items[id])
	}
	return ComputeStatistics(items, s.weights, nil), nil
}

// Weights returns the configured weight table.
func (s *MemoryStore) Weights() Weights {
	return s.weights
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op. Implements io.Closer.
func (s *MemoryStore) Close() error {
	return nil
}
