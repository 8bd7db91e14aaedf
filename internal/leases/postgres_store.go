package leases

import (
	"context"
	"database/sql"
)

// PostgresRegistry reads lease party membership from the leases table,
// which is owned by the listing/lease service.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a new PostgreSQL-backed lease registry.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (p *PostgresRegistry) Parties(ctx context.Context, leaseID string) (*Lease, error) {
	l := &Lease{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, landlord_id FROM leases WHERE id = $1
	`, leaseID).Scan(&l.ID, &l.TenantID, &l.LandlordID)
	if err == sql.ErrNoRows {
		return nil, ErrLeaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}
