package leases

import (
	"context"
	"sync"
)

// MemoryRegistry implements Registry using an in-memory map (for demo/testing).
type MemoryRegistry struct {
	mu     sync.RWMutex
	leases map[string]*Lease
}

// NewMemoryRegistry creates an in-memory lease registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{leases: make(map[string]*Lease)}
}

// Put seeds or replaces a lease. Test and demo helper.
func (r *MemoryRegistry) Put(l *Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.leases[l.ID] = &cp
}

func (r *MemoryRegistry) Parties(_ context.Context, leaseID string) (*Lease, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.leases[leaseID]
	if !ok {
		return nil, ErrLeaseNotFound
	}
	cp := *l
	return &cp, nil
}
