package trust

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed validation request store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new request, rejecting duplicates while the user still
// has a non-rejected request on file.
func (p *PostgresStore) Create(ctx context.Context, r *ValidationRequest) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM trust_validation_requests
		WHERE user_id = $1 AND status <> 'rejected'
		LIMIT 1
	`, r.UserID).Scan(&existingStatus)
	if err == nil {
		return ErrRequestInFlight
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check existing: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trust_validation_requests (
			id, user_id, status,
			documents_verified, identity_verified, background_check, interview_completed,
			trust_score, agent_notes, rejection_reason, additional_info_requested,
			assigned_to, requested_at, assigned_at, validated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15
		)
	`,
		r.ID, r.UserID, string(r.Status),
		r.DocumentsVerified, r.IdentityVerified, r.BackgroundCheck, r.InterviewCompleted,
		nullIntPtr(r.TrustScore), r.AgentNotes, r.RejectionReason, r.AdditionalInfoRequested,
		nullString(r.AssignedTo), r.RequestedAt, nullTimePtr(r.AssignedAt), nullTimePtr(r.ValidatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	return tx.Commit()
}

// Get retrieves a request by ID.
func (p *PostgresStore) Get(ctx context.Context, id string) (*ValidationRequest, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// GetActiveByUser retrieves the user's non-rejected request, if any.
func (p *PostgresStore) GetActiveByUser(ctx context.Context, userID string) (*ValidationRequest, error) {
	row := p.db.QueryRowContext(ctx,
		selectColumns+" WHERE user_id = $1 AND status <> 'rejected' ORDER BY requested_at DESC LIMIT 1", userID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request by user: %w", err)
	}
	return r, nil
}

// Update modifies a request's mutable fields.
func (p *PostgresStore) Update(ctx context.Context, r *ValidationRequest) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trust_validation_requests SET
			status                    = $2,
			documents_verified        = $3,
			identity_verified         = $4,
			background_check          = $5,
			interview_completed       = $6,
			trust_score               = $7,
			agent_notes               = $8,
			rejection_reason          = $9,
			additional_info_requested = $10,
			assigned_to               = $11,
			assigned_at               = $12,
			validated_at              = $13
		WHERE id = $1
	`,
		r.ID, string(r.Status),
		r.DocumentsVerified, r.IdentityVerified, r.BackgroundCheck, r.InterviewCompleted,
		nullIntPtr(r.TrustScore), r.AgentNotes, r.RejectionReason, r.AdditionalInfoRequested,
		nullString(r.AssignedTo), nullTimePtr(r.AssignedAt), nullTimePtr(r.ValidatedAt),
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// ListByStatus returns requests in the given status, newest first.
func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*ValidationRequest, error) {
	rows, err := p.db.QueryContext(ctx,
		selectColumns+" WHERE status = $1 ORDER BY requested_at DESC LIMIT $2", string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRequests(rows)
}

// --- scanning helpers ---

const selectColumns = `
	SELECT id, user_id, status,
		documents_verified, identity_verified, background_check, interview_completed,
		trust_score, agent_notes, rejection_reason, additional_info_requested,
		assigned_to, requested_at, assigned_at, validated_at
	FROM trust_validation_requests`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scannable) (*ValidationRequest, error) {
	var r ValidationRequest
	var status string
	var trustScore sql.NullInt64
	var agentNotes, rejectionReason, additionalInfo, assignedTo sql.NullString
	var assignedAt, validatedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.UserID, &status,
		&r.DocumentsVerified, &r.IdentityVerified, &r.BackgroundCheck, &r.InterviewCompleted,
		&trustScore, &agentNotes, &rejectionReason, &additionalInfo,
		&assignedTo, &r.RequestedAt, &assignedAt, &validatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(status)
	if trustScore.Valid {
		score := int(trustScore.Int64)
		r.TrustScore = &score
	}
	r.AgentNotes = agentNotes.String
	r.RejectionReason = rejectionReason.String
	r.AdditionalInfoRequested = additionalInfo.String
	r.AssignedTo = assignedTo.String
	if assignedAt.Valid {
		t := assignedAt.Time
		r.AssignedAt = &t
	}
	if validatedAt.Valid {
		t := validatedAt.Time
		r.ValidatedAt = &t
	}

	return &r, nil
}

func scanRequests(rows *sql.Rows) ([]*ValidationRequest, error) {
	var result []*ValidationRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
