package disputes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lofthouse/trustdesk/internal/pagination"
)

// MemoryStore implements Store using in-memory maps (for demo/testing).
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute // id → dispute
	byNumber map[string]string   // disputeNumber → id
	messages map[string][]*Message
}

// NewMemoryStore creates an in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		byNumber: make(map[string]string),
		messages: make(map[string][]*Message),
	}
}

func (s *MemoryStore) Create(_ context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.disputes[d.ID] = &cp
	s.byNumber[d.DisputeNumber] = d.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetByNumber(_ context.Context, number string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *s.disputes[id]
	return &cp, nil
}

// Update applies the version check under the store lock: the write succeeds
// only if the caller read the latest version, mirroring the conditional
// UPDATE the PostgreSQL store issues.
func (s *MemoryStore) Update(_ context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.disputes[d.ID]
	if !ok {
		return ErrDisputeNotFound
	}
	if current.Version != d.Version {
		return ErrStaleWrite
	}

	cp := *d
	cp.Version++
	s.disputes[d.ID] = &cp
	d.Version = cp.Version
	return nil
}

func (s *MemoryStore) ListByParty(_ context.Context, userID string, limit int) ([]*Dispute, error) {
	return s.list(limit, func(d *Dispute) bool { return d.IsParty(userID) })
}

func (s *MemoryStore) ListByMediator(_ context.Context, mediatorID string, limit int) ([]*Dispute, error) {
	return s.list(limit, func(d *Dispute) bool { return d.AssignedTo == mediatorID })
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Dispute, error) {
	return s.list(limit, func(d *Dispute) bool { return d.Status == status })
}

func (s *MemoryStore) ListUnresolved(_ context.Context, limit int) ([]*Dispute, error) {
	result, err := s.list(limit, func(d *Dispute) bool { return !d.IsTerminal() })
	if err != nil {
		return nil, err
	}
	// Oldest first for the sweep.
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

func (s *MemoryStore) list(limit int, match func(*Dispute) bool) ([]*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Dispute
	for _, d := range s.disputes {
		if match(d) {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.messages[m.DisputeID] = append(s.messages[m.DisputeID], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, disputeID string, limit int, cursor string) ([]*Message, string, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	all := make([]*Message, len(s.messages[disputeID]))
	for i, m := range s.messages[disputeID] {
		cp := *m
		all[i] = &cp
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].SentAt.Equal(all[j].SentAt) {
			return all[i].SentAt.Before(all[j].SentAt)
		}
		return all[i].ID < all[j].ID
	})

	var page []*Message
	for _, m := range all {
		if cur != nil {
			if m.SentAt.Before(cur.CreatedAt) {
				continue
			}
			if m.SentAt.Equal(cur.CreatedAt) && m.ID <= cur.ID {
				continue
			}
		}
		page = append(page, m)
		if len(page) > limit {
			break
		}
	}

	page, next, _ := pagination.ComputePage(page, limit, func(m *Message) (time.Time, string) {
		return m.SentAt, m.ID
	})
	return page, next, nil
}
