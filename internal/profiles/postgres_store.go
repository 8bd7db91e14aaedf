package profiles

import (
	"context"
	"database/sql"
)

// PostgresStore reads eligibility from the user_profiles table. The table is
// populated by the identity service; this store only flips the
// trust_verified flag on approval.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Eligibility(ctx context.Context, userID string) (*Eligibility, error) {
	e := &Eligibility{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, automated_verified, composite_score, trust_verified, agent_score
		FROM user_profiles WHERE user_id = $1
	`, userID).Scan(&e.UserID, &e.AutomatedVerified, &e.CompositeScore, &e.TrustVerified, &e.AgentScore)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) SetTrustVerified(ctx context.Context, userID string, agentScore int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE user_profiles SET trust_verified = TRUE, agent_score = $1
		WHERE user_id = $2
	`, agentScore, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}
