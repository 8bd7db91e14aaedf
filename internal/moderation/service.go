package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/lofthouse/trustdesk/internal/idgen"
	"github.com/lofthouse/trustdesk/internal/metrics"
	"github.com/lofthouse/trustdesk/internal/webhooks"
)

// Service implements moderation queue business logic.
type Service struct {
	store   Store
	emitter *webhooks.Emitter
}

// NewService creates a new moderation service.
func NewService(store Store, emitter *webhooks.Emitter) *Service {
	return &Service{store: store, emitter: emitter}
}

// Enqueue adds a flagged listing to the queue. No uniqueness constraint: a
// property may be re-flagged while earlier items already exist.
func (s *Service) Enqueue(ctx context.Context, propertyID string, suspicionScore int, reasons []string) (*QueueItem, error) {
	if suspicionScore < 0 || suspicionScore > 100 {
		return nil, ErrInvalidSuspicion
	}

	item := &QueueItem{
		ID:               idgen.WithPrefix("mod_"),
		PropertyID:       propertyID,
		SuspicionScore:   suspicionScore,
		SuspicionReasons: reasons,
		Status:           StatusPending,
		EnqueuedAt:       time.Now(),
	}
	if err := s.store.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue item: %w", err)
	}

	s.updateQueueDepth(ctx)
	s.emitter.EmitModerationEnqueued(item.ID, "property", propertyID)
	return item, nil
}

// Moderate applies a decision to a pending item, exactly once. The first
// decision is final; later calls fail with ErrAlreadyModerated and the
// stored decision is retained.
func (s *Service) Moderate(ctx context.Context, itemID, moderatorID string, decision Decision, notes string) (*QueueItem, error) {
	if !ValidDecision(decision) {
		return nil, ErrInvalidDecision
	}

	item, err := s.store.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusPending {
		return nil, ErrAlreadyModerated
	}

	now := time.Now()
	item.Status = Status(decision)
	item.ModeratorID = moderatorID
	item.ModeratorNotes = notes
	item.ModeratedAt = &now
	if err := s.store.DecideOnce(ctx, item); err != nil {
		return nil, err
	}

	metrics.ModerationDecisionsTotal.WithLabelValues(string(decision)).Inc()
	s.updateQueueDepth(ctx)
	s.emitter.EmitModerationDecided(item.ID, moderatorID, string(decision))
	return item, nil
}

// Get returns a queue item by ID.
func (s *Service) Get(ctx context.Context, id string) (*QueueItem, error) {
	return s.store.Get(ctx, id)
}

// ListPending returns pending items, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*QueueItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListPending(ctx, limit)
}

// ListByProperty returns all items ever filed against a property.
func (s *Service) ListByProperty(ctx context.Context, propertyID string, limit int) ([]*QueueItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByProperty(ctx, propertyID, limit)
}

func (s *Service) updateQueueDepth(ctx context.Context) {
	if n, err := s.store.CountPending(ctx); err == nil {
		metrics.ModerationQueueDepth.Set(float64(n))
	}
}
