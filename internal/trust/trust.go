// Package trust implements manual trust validation for marketplace users.
//
// Users who pass automated identity checks and carry a sufficient composite
// score may request manual validation by a trust agent. The agent reviews
// documents, identity, background and interview signals, then approves,
// rejects, or requests additional information.
//
// Flow:
//  1. User submits a request → gate checks eligibility
//  2. Agent is assigned → request moves to under_review
//  3. Agent decides → approved (agent score recorded, profile flagged),
//     rejected (reason recorded), or additional info requested
//  4. On additional_info_required the user may resubmit the same request
package trust

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAutomatedVerified   = errors.New("user has not passed automated verification")
	ErrScoreTooLow            = errors.New("composite score below validation threshold")
	ErrAlreadyVerified        = errors.New("user is already trust-verified")
	ErrRequestInFlight        = errors.New("user already has an active validation request")
	ErrRequestNotFound        = errors.New("validation request not found")
	ErrInvalidTransition      = errors.New("invalid status for this operation")
	ErrNotAssignedAgent       = errors.New("caller is not the assigned agent")
	ErrMissingRejectionReason = errors.New("rejection requires a reason")
	ErrMissingInfoRequest     = errors.New("info request requires a description of what is needed")
	ErrInvalidAgentScore      = errors.New("agent score must be between 0 and 100")
)

// Status represents the state of a validation request.
type Status string

const (
	StatusPending      Status = "pending"
	StatusUnderReview  Status = "under_review"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusInfoRequired Status = "additional_info_required"
)

// Decision is an agent's ruling on a request under review.
type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionReject      Decision = "reject"
	DecisionRequestInfo Decision = "request_info"
)

// ValidationRequest represents a manual trust validation request.
// At most one non-rejected request exists per user at a time.
type ValidationRequest struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Status Status `json:"status"`

	// Review checklist, set only by the assigned agent.
	DocumentsVerified  bool `json:"documentsVerified"`
	IdentityVerified   bool `json:"identityVerified"`
	BackgroundCheck    bool `json:"backgroundCheck"`
	InterviewCompleted bool `json:"interviewCompleted"`

	// TrustScore is the agent-assigned 0-100 score, set only on approval.
	TrustScore *int `json:"trustScore,omitempty"`

	AgentNotes              string `json:"agentNotes,omitempty"`
	RejectionReason         string `json:"rejectionReason,omitempty"`
	AdditionalInfoRequested string `json:"additionalInfoRequested,omitempty"`

	AssignedTo string `json:"assignedTo,omitempty"`

	RequestedAt time.Time  `json:"requestedAt"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	ValidatedAt *time.Time `json:"validatedAt,omitempty"`
}

// IsTerminal returns true if the request is in a final state.
func (r *ValidationRequest) IsTerminal() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// DecideRequest carries the agent's checklist and decision fields.
type DecideRequest struct {
	Decision Decision `json:"decision" binding:"required"`

	DocumentsVerified  bool `json:"documentsVerified"`
	IdentityVerified   bool `json:"identityVerified"`
	BackgroundCheck    bool `json:"backgroundCheck"`
	InterviewCompleted bool `json:"interviewCompleted"`

	TrustScore              *int   `json:"trustScore,omitempty"`
	AgentNotes              string `json:"agentNotes,omitempty"`
	RejectionReason         string `json:"rejectionReason,omitempty"`
	AdditionalInfoRequested string `json:"additionalInfoRequested,omitempty"`
}

// Store persists validation requests.
type Store interface {
	Create(ctx context.Context, r *ValidationRequest) error
	Get(ctx context.Context, id string) (*ValidationRequest, error)
	// GetActiveByUser returns the user's non-rejected request, if any.
	GetActiveByUser(ctx context.Context, userID string) (*ValidationRequest, error)
	Update(ctx context.Context, r *ValidationRequest) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*ValidationRequest, error)
}
