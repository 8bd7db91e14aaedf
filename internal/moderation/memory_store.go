package moderation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store using in-memory maps (for demo/testing).
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*QueueItem
}

// NewMemoryStore creates an in-memory moderation queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*QueueItem)}
}

func (s *MemoryStore) Create(_ context.Context, item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

// DecideOnce re-checks pending under the store lock so two competing
// moderators cannot both win.
func (s *MemoryStore) DecideOnce(_ context.Context, item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[item.ID]
	if !ok {
		return ErrItemNotFound
	}
	if current.Status != StatusPending {
		return ErrAlreadyModerated
	}

	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*QueueItem
	for _, item := range s.items {
		if item.Status == StatusPending {
			cp := *item
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EnqueuedAt.Before(result[j].EnqueuedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListByProperty(_ context.Context, propertyID string, limit int) ([]*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*QueueItem
	for _, item := range s.items {
		if item.PropertyID == propertyID {
			cp := *item
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EnqueuedAt.After(result[j].EnqueuedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if item.Status == StatusPending {
			n++
		}
	}
	return n, nil
}
