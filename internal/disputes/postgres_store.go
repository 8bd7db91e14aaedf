package disputes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lofthouse/trustdesk/internal/pagination"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, dispute_number, lease_id, opened_by, against_user,
			dispute_type, description, amount_disputed, urgency, evidence_files,
			status, assigned_to,
			resolution_proposed, opener_vote, opponent_vote, resolution_final,
			escalated_to, escalation_reason, closed_by, close_reason,
			opened_at, assigned_at, resolved_at, escalated_at, closed_at,
			version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24, $25,
			$26
		)
	`,
		d.ID, d.DisputeNumber, d.LeaseID, d.OpenedBy, d.AgainstUser,
		string(d.Type), d.Description, nullFloatPtr(d.AmountDisputed), string(d.Urgency), pq.Array(d.EvidenceFiles),
		string(d.Status), nullStr(d.AssignedTo),
		nullStr(d.ResolutionProposed), string(d.OpenerVote), string(d.OpponentVote), nullStr(d.ResolutionFinal),
		nullStr(string(d.EscalatedTo)), nullStr(d.EscalationReason), nullStr(d.ClosedBy), nullStr(d.CloseReason),
		d.OpenedAt, nullTime(d.AssignedAt), nullTime(d.ResolvedAt), nullTime(d.EscalatedAt), nullTime(d.ClosedAt),
		d.Version,
	)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, selectDisputeColumns+" WHERE id = $1", id)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) GetByNumber(ctx context.Context, number string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, selectDisputeColumns+" WHERE dispute_number = $1", number)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute by number: %w", err)
	}
	return d, nil
}

// Update writes all mutable fields in a single conditional statement guarded
// by the version column. Zero rows affected means either the dispute is gone
// or another writer advanced the version first; the two cases are told apart
// with a follow-up existence check.
func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status              = $3,
			assigned_to         = $4,
			resolution_proposed = $5,
			opener_vote         = $6,
			opponent_vote       = $7,
			resolution_final    = $8,
			escalated_to        = $9,
			escalation_reason   = $10,
			closed_by           = $11,
			close_reason        = $12,
			assigned_at         = $13,
			resolved_at         = $14,
			escalated_at        = $15,
			closed_at           = $16,
			version             = version + 1
		WHERE id = $1 AND version = $2
	`,
		d.ID, d.Version,
		string(d.Status), nullStr(d.AssignedTo),
		nullStr(d.ResolutionProposed), string(d.OpenerVote), string(d.OpponentVote), nullStr(d.ResolutionFinal),
		nullStr(string(d.EscalatedTo)), nullStr(d.EscalationReason), nullStr(d.ClosedBy), nullStr(d.CloseReason),
		nullTime(d.AssignedAt), nullTime(d.ResolvedAt), nullTime(d.EscalatedAt), nullTime(d.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check dispute exists: %w", err)
		}
		if !exists {
			return ErrDisputeNotFound
		}
		return ErrStaleWrite
	}

	d.Version++
	return nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx,
		selectDisputeColumns+` WHERE opened_by = $1 OR against_user = $1 ORDER BY opened_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by party: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDisputes(rows)
}

func (p *PostgresStore) ListByMediator(ctx context.Context, mediatorID string, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx,
		selectDisputeColumns+` WHERE assigned_to = $1 ORDER BY opened_at DESC LIMIT $2`,
		mediatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by mediator: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDisputes(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx,
		selectDisputeColumns+` WHERE status = $1 ORDER BY opened_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDisputes(rows)
}

func (p *PostgresStore) ListUnresolved(ctx context.Context, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx,
		selectDisputeColumns+` WHERE status NOT IN ('resolved', 'escalated', 'closed') ORDER BY opened_at ASC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDisputes(rows)
}

func (p *PostgresStore) AppendMessage(ctx context.Context, m *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_messages (id, dispute_id, sender_id, message, attachments, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.DisputeID, m.SenderID, m.Message, pq.Array(m.Attachments), m.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, disputeID string, limit int, cursor string) ([]*Message, string, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	var rows *sql.Rows
	if cur == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, dispute_id, sender_id, message, attachments, sent_at
			FROM dispute_messages
			WHERE dispute_id = $1
			ORDER BY sent_at ASC, id ASC
			LIMIT $2
		`, disputeID, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, dispute_id, sender_id, message, attachments, sent_at
			FROM dispute_messages
			WHERE dispute_id = $1 AND (sent_at, id) > ($2, $3)
			ORDER BY sent_at ASC, id ASC
			LIMIT $4
		`, disputeID, cur.CreatedAt, cur.ID, limit+1)
	}
	if err != nil {
		return nil, "", fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.SenderID, &m.Message, pq.Array(&m.Attachments), &m.SentAt); err != nil {
			return nil, "", fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(messages, limit, func(m *Message) (time.Time, string) {
		return m.SentAt, m.ID
	})
	return page, next, nil
}

// --- scanning helpers ---

const selectDisputeColumns = `
	SELECT id, dispute_number, lease_id, opened_by, against_user,
		dispute_type, description, amount_disputed, urgency, evidence_files,
		status, assigned_to,
		resolution_proposed, opener_vote, opponent_vote, resolution_final,
		escalated_to, escalation_reason, closed_by, close_reason,
		opened_at, assigned_at, resolved_at, escalated_at, closed_at,
		version
	FROM disputes`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanDispute(row scannable) (*Dispute, error) {
	var d Dispute
	var disputeType, urgency, status, openerVote, opponentVote string
	var amount sql.NullFloat64
	var assignedTo, proposed, final, escalatedTo, escalationReason, closedBy, closeReason sql.NullString
	var assignedAt, resolvedAt, escalatedAt, closedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.DisputeNumber, &d.LeaseID, &d.OpenedBy, &d.AgainstUser,
		&disputeType, &d.Description, &amount, &urgency, pq.Array(&d.EvidenceFiles),
		&status, &assignedTo,
		&proposed, &openerVote, &opponentVote, &final,
		&escalatedTo, &escalationReason, &closedBy, &closeReason,
		&d.OpenedAt, &assignedAt, &resolvedAt, &escalatedAt, &closedAt,
		&d.Version,
	)
	if err != nil {
		return nil, err
	}

	d.Type = Type(disputeType)
	d.Urgency = Urgency(urgency)
	d.Status = Status(status)
	d.OpenerVote = Vote(openerVote)
	d.OpponentVote = Vote(opponentVote)
	if amount.Valid {
		v := amount.Float64
		d.AmountDisputed = &v
	}
	d.AssignedTo = assignedTo.String
	d.ResolutionProposed = proposed.String
	d.ResolutionFinal = final.String
	d.EscalatedTo = Destination(escalatedTo.String)
	d.EscalationReason = escalationReason.String
	d.ClosedBy = closedBy.String
	d.CloseReason = closeReason.String
	if assignedAt.Valid {
		t := assignedAt.Time
		d.AssignedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	if escalatedAt.Valid {
		t := escalatedAt.Time
		d.EscalatedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		d.ClosedAt = &t
	}

	return &d, nil
}

func scanDisputes(rows *sql.Rows) ([]*Dispute, error) {
	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
