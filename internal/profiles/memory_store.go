package profiles

import (
	"context"
	"sync"
)

// MemoryStore implements Store using in-memory maps (for demo/testing).
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Eligibility // userID → eligibility
}

// NewMemoryStore creates an in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Eligibility)}
}

// Put seeds or replaces a profile. Test and demo helper; the real profile
// store is owned by the identity service.
func (s *MemoryStore) Put(e *Eligibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.profiles[e.UserID] = &cp
}

func (s *MemoryStore) Eligibility(_ context.Context, userID string) (*Eligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) SetTrustVerified(_ context.Context, userID string, agentScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	e.TrustVerified = true
	e.AgentScore = agentScore
	return nil
}
