package trust

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store using in-memory maps (for demo/testing).
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*ValidationRequest // id → request
	byUser   map[string]string             // userID → active (non-rejected) request id
}

// NewMemoryStore creates an in-memory validation request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*ValidationRequest),
		byUser:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, r *ValidationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byUser[r.UserID]; ok {
		existing := s.requests[existingID]
		if existing != nil && existing.Status != StatusRejected {
			return ErrRequestInFlight
		}
	}

	cp := *r
	s.requests[r.ID] = &cp
	s.byUser[r.UserID] = r.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*ValidationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetActiveByUser(_ context.Context, userID string) (*ValidationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUser[userID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	r, ok := s.requests[id]
	if !ok || r.Status == StatusRejected {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, r *ValidationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; !ok {
		return ErrRequestNotFound
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*ValidationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ValidationRequest
	for _, r := range s.requests {
		if r.Status == status {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RequestedAt.After(result[j].RequestedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
