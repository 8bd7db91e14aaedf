// Package moderation implements the listing moderation queue.
//
// An external fraud-scoring job flags suspicious property listings into the
// queue. A moderator reviews each item and decides exactly once: approve,
// reject, or request clarification. The listing visibility change itself
// happens downstream.
package moderation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrItemNotFound     = errors.New("moderation queue item not found")
	ErrAlreadyModerated = errors.New("item has already been moderated")
	ErrInvalidDecision  = errors.New("unknown moderation decision")
	ErrInvalidSuspicion = errors.New("suspicion score must be between 0 and 100")
)

// Status represents the state of a queue item.
type Status string

const (
	StatusPending                Status = "pending"
	StatusApproved               Status = "approved"
	StatusRejected               Status = "rejected"
	StatusClarificationRequested Status = "clarification_requested"
)

// Decision is a moderator's ruling on a pending item.
type Decision string

const (
	DecisionApprove              Decision = "approved"
	DecisionReject               Decision = "rejected"
	DecisionRequestClarification Decision = "clarification_requested"
)

// ValidDecision reports whether d is a known decision.
func ValidDecision(d Decision) bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRequestClarification:
		return true
	}
	return false
}

// QueueItem is one flagged listing awaiting moderation. A property may be
// re-flagged, so multiple items can reference the same property over time.
type QueueItem struct {
	ID               string   `json:"id"`
	PropertyID       string   `json:"propertyId"`
	SuspicionScore   int      `json:"suspicionScore"`
	SuspicionReasons []string `json:"suspicionReasons,omitempty"`

	Status         Status `json:"status"`
	ModeratorID    string `json:"moderatorId,omitempty"`
	ModeratorNotes string `json:"moderatorNotes,omitempty"`

	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	ModeratedAt *time.Time `json:"moderatedAt,omitempty"`
}

// Store persists moderation queue items.
type Store interface {
	Create(ctx context.Context, item *QueueItem) error
	Get(ctx context.Context, id string) (*QueueItem, error)
	// DecideOnce applies the decision only if the item is still pending;
	// returns ErrAlreadyModerated otherwise.
	DecideOnce(ctx context.Context, item *QueueItem) error
	ListPending(ctx context.Context, limit int) ([]*QueueItem, error)
	ListByProperty(ctx context.Context, propertyID string, limit int) ([]*QueueItem, error)
	CountPending(ctx context.Context) (int, error)
}
