// Package leases is the engine's read-only view of the lease/party registry.
// A lease binds exactly two users — tenant and landlord — and those are the
// only users eligible to open or respond to a dispute on that lease.
package leases

import (
	"context"
	"errors"
)

var ErrLeaseNotFound = errors.New("lease not found")

// Lease identifies the two parties bound to a lease.
type Lease struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	LandlordID string `json:"landlordId"`
}

// IsParty returns true if userID is one of the two lease parties.
func (l *Lease) IsParty(userID string) bool {
	return userID == l.TenantID || userID == l.LandlordID
}

// OtherParty returns the counterparty for a given lease party, or "" if
// userID is not a party.
func (l *Lease) OtherParty(userID string) string {
	switch userID {
	case l.TenantID:
		return l.LandlordID
	case l.LandlordID:
		return l.TenantID
	}
	return ""
}

// Registry looks up lease party membership.
type Registry interface {
	Parties(ctx context.Context, leaseID string) (*Lease, error)
}
