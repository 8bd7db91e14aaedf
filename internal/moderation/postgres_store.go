package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed moderation queue store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, item *QueueItem) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO moderation_queue (
			id, property_id, suspicion_score, suspicion_reasons,
			status, moderator_id, moderator_notes, enqueued_at, moderated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		item.ID, item.PropertyID, item.SuspicionScore, pq.Array(item.SuspicionReasons),
		string(item.Status), nullStr(item.ModeratorID), nullStr(item.ModeratorNotes),
		item.EnqueuedAt, nullTime(item.ModeratedAt),
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*QueueItem, error) {
	row := p.db.QueryRowContext(ctx, selectItemColumns+" WHERE id = $1", id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// DecideOnce applies the decision with a conditional UPDATE so only one
// moderator can ever win the pending → decided transition.
func (p *PostgresStore) DecideOnce(ctx context.Context, item *QueueItem) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE moderation_queue SET
			status          = $2,
			moderator_id    = $3,
			moderator_notes = $4,
			moderated_at    = $5
		WHERE id = $1 AND status = 'pending'
	`,
		item.ID, string(item.Status),
		nullStr(item.ModeratorID), nullStr(item.ModeratorNotes), nullTime(item.ModeratedAt),
	)
	if err != nil {
		return fmt.Errorf("decide queue item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM moderation_queue WHERE id = $1)`, item.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check item exists: %w", err)
		}
		if !exists {
			return ErrItemNotFound
		}
		return ErrAlreadyModerated
	}
	return nil
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*QueueItem, error) {
	rows, err := p.db.QueryContext(ctx,
		selectItemColumns+` WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

func (p *PostgresStore) ListByProperty(ctx context.Context, propertyID string, limit int) ([]*QueueItem, error) {
	rows, err := p.db.QueryContext(ctx,
		selectItemColumns+` WHERE property_id = $1 ORDER BY enqueued_at DESC LIMIT $2`, propertyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by property: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

func (p *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM moderation_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// --- scanning helpers ---

const selectItemColumns = `
	SELECT id, property_id, suspicion_score, suspicion_reasons,
		status, moderator_id, moderator_notes, enqueued_at, moderated_at
	FROM moderation_queue`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scannable) (*QueueItem, error) {
	var item QueueItem
	var status string
	var moderatorID, moderatorNotes sql.NullString
	var moderatedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.PropertyID, &item.SuspicionScore, pq.Array(&item.SuspicionReasons),
		&status, &moderatorID, &moderatorNotes, &item.EnqueuedAt, &moderatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = Status(status)
	item.ModeratorID = moderatorID.String
	item.ModeratorNotes = moderatorNotes.String
	if moderatedAt.Valid {
		t := moderatedAt.Time
		item.ModeratedAt = &t
	}

	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*QueueItem, error) {
	var result []*QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
