// Package disputes implements the dispute lifecycle between two lease parties.
//
// Either party of a lease can open a dispute. A mediator is assigned, reviews
// evidence and messages, and proposes a resolution that both parties must
// accept. Unresolved disputes escalate to arbitration; stalled ones are
// flagged by a periodic sweep.
//
// State machine:
//
//	open → assigned → under_mediation → awaiting_response → resolved
//
// with escalated reachable from assigned, under_mediation and
// awaiting_response, and closed reachable administratively from any
// non-terminal state.
package disputes

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisputeNotFound         = errors.New("dispute not found")
	ErrNotAParty               = errors.New("user is not a party to this dispute")
	ErrNotAssignedMediator     = errors.New("caller is not the assigned mediator")
	ErrInvalidTransition       = errors.New("operation not permitted from the current status")
	ErrDescriptionTooShort     = errors.New("description must be at least 50 characters")
	ErrEmptyProposal           = errors.New("proposed resolution must not be empty")
	ErrEmptyMessage            = errors.New("message must not be empty")
	ErrAlreadyResponded        = errors.New("party has already responded to this proposal")
	ErrMissingEscalationReason = errors.New("escalation requires a reason")
	ErrInvalidDestination      = errors.New("unknown escalation destination")
	ErrInvalidAmount           = errors.New("disputed amount must not be negative")
	ErrStaleWrite              = errors.New("dispute was modified concurrently, retry")
)

// MinDescriptionLength ensures the mediator has enough context to work with.
const MinDescriptionLength = 50

// Status represents the state of a dispute.
type Status string

const (
	StatusOpen             Status = "open"
	StatusAssigned         Status = "assigned"
	StatusUnderMediation   Status = "under_mediation"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusResolved         Status = "resolved"
	StatusEscalated        Status = "escalated"
	StatusClosed           Status = "closed"
)

// Type classifies what the dispute is about.
type Type string

const (
	TypeDeposit           Type = "deposit"
	TypeDamage            Type = "damage"
	TypeRentPayment       Type = "rent_payment"
	TypeMaintenance       Type = "maintenance"
	TypeContractViolation Type = "contract_violation"
	TypeOther             Type = "other"
)

// ValidType reports whether t is a known dispute type.
func ValidType(t Type) bool {
	switch t {
	case TypeDeposit, TypeDamage, TypeRentPayment, TypeMaintenance, TypeContractViolation, TypeOther:
		return true
	}
	return false
}

// Urgency drives the SLA clock: urgent disputes stale after 48h, normal
// after 7 days.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyUrgent Urgency = "urgent"
)

// Vote is a party's tri-state response to a proposed resolution.
type Vote string

const (
	VoteUnset    Vote = ""
	VoteAccepted Vote = "accepted"
	VoteRejected Vote = "rejected"
)

// Destination is where an escalated dispute is routed.
type Destination string

const (
	DestinationAnsutArbitration    Destination = "ansut_arbitration"
	DestinationExternalArbitration Destination = "external_arbitration"
	DestinationCourt               Destination = "court"
)

// ValidDestination reports whether d is a known escalation destination.
func ValidDestination(d Destination) bool {
	switch d {
	case DestinationAnsutArbitration, DestinationExternalArbitration, DestinationCourt:
		return true
	}
	return false
}

// Dispute represents a dispute between the two parties of a lease.
type Dispute struct {
	ID            string `json:"id"`
	DisputeNumber string `json:"disputeNumber"`

	LeaseID     string `json:"leaseId"`
	OpenedBy    string `json:"openedBy"`
	AgainstUser string `json:"againstUser"`

	Type           Type     `json:"type"`
	Description    string   `json:"description"`
	AmountDisputed *float64 `json:"amountDisputed,omitempty"`
	Urgency        Urgency  `json:"urgency"`
	EvidenceFiles  []string `json:"evidenceFiles,omitempty"`

	Status     Status `json:"status"`
	AssignedTo string `json:"assignedTo,omitempty"`

	ResolutionProposed string `json:"resolutionProposed,omitempty"`
	OpenerVote         Vote   `json:"openerVote,omitempty"`
	OpponentVote       Vote   `json:"opponentVote,omitempty"`
	ResolutionFinal    string `json:"resolutionFinal,omitempty"`

	EscalatedTo      Destination `json:"escalatedTo,omitempty"`
	EscalationReason string      `json:"escalationReason,omitempty"`

	ClosedBy    string `json:"closedBy,omitempty"`
	CloseReason string `json:"closeReason,omitempty"`

	OpenedAt    time.Time  `json:"openedAt"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`

	// Version is the optimistic-concurrency counter. Every successful
	// store update increments it; a mismatched version fails with
	// ErrStaleWrite.
	Version int64 `json:"version"`
}

// IsTerminal returns true if the dispute is in a final state.
func (d *Dispute) IsTerminal() bool {
	return d.Status == StatusResolved || d.Status == StatusEscalated || d.Status == StatusClosed
}

// IsParty returns true if userID is one of the two disputants.
func (d *Dispute) IsParty(userID string) bool {
	return userID == d.OpenedBy || userID == d.AgainstUser
}

// Message is one append-only entry in a dispute's communication log.
type Message struct {
	ID          string    `json:"id"`
	DisputeID   string    `json:"disputeId"`
	SenderID    string    `json:"senderId"`
	Message     string    `json:"message"`
	Attachments []string  `json:"attachments,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

// Store persists disputes and their message logs.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetByNumber(ctx context.Context, number string) (*Dispute, error)
	// Update persists d conditionally on d.Version matching the stored
	// version, then increments it. Returns ErrStaleWrite on mismatch so
	// the caller can re-read and retry.
	Update(ctx context.Context, d *Dispute) error
	ListByParty(ctx context.Context, userID string, limit int) ([]*Dispute, error)
	ListByMediator(ctx context.Context, mediatorID string, limit int) ([]*Dispute, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error)
	// ListUnresolved returns disputes not yet in a terminal state,
	// oldest first. Used by the staleness sweep.
	ListUnresolved(ctx context.Context, limit int) ([]*Dispute, error)

	AppendMessage(ctx context.Context, m *Message) error
	// ListMessages returns messages for a dispute ordered by sentAt then
	// id, starting after the cursor position.
	ListMessages(ctx context.Context, disputeID string, limit int, cursor string) ([]*Message, string, error)
}
