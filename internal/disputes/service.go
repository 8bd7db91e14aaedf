package disputes

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lofthouse/trustdesk/internal/idgen"
	"github.com/lofthouse/trustdesk/internal/leases"
	"github.com/lofthouse/trustdesk/internal/metrics"
	"github.com/lofthouse/trustdesk/internal/syncutil"
	"github.com/lofthouse/trustdesk/internal/webhooks"
)

// defaultRespondRetries bounds the optimistic-concurrency retry loop in
// Respond.
const defaultRespondRetries = 3

// Service implements dispute lifecycle business logic.
type Service struct {
	store   Store
	leases  leases.Registry
	emitter *webhooks.Emitter

	// locks serializes read-modify-write cycles per dispute within this
	// process; cross-process writers are caught by the version check.
	locks          *syncutil.ContextShardedMutex
	respondRetries int
	minDescription int
	urgentStaleAge time.Duration
	normalStaleAge time.Duration
}

// NewService creates a new dispute service.
func NewService(store Store, registry leases.Registry, emitter *webhooks.Emitter) *Service {
	return &Service{
		store:          store,
		leases:         registry,
		emitter:        emitter,
		locks:          syncutil.NewContextShardedMutex(),
		respondRetries: defaultRespondRetries,
		minDescription: MinDescriptionLength,
		urgentStaleAge: UrgentStaleAge,
		normalStaleAge: NormalStaleAge,
	}
}

// WithSLA overrides the stale windows used by the sweep.
func (s *Service) WithSLA(urgent, normal time.Duration) *Service {
	if urgent > 0 {
		s.urgentStaleAge = urgent
	}
	if normal > 0 {
		s.normalStaleAge = normal
	}
	return s
}

// WithLimits overrides the description minimum and the optimistic-concurrency
// retry bound.
func (s *Service) WithLimits(minDescription, respondRetries int) *Service {
	if minDescription > 0 {
		s.minDescription = minDescription
	}
	if respondRetries > 0 {
		s.respondRetries = respondRetries
	}
	return s
}

// OpenRequest carries the parameters for opening a dispute. OpenedBy is
// filled from the authenticated caller by the HTTP layer; a non-empty body
// value must match it.
type OpenRequest struct {
	LeaseID        string   `json:"leaseId" binding:"required"`
	OpenedBy       string   `json:"openedBy,omitempty"`
	Type           Type     `json:"type" binding:"required"`
	Description    string   `json:"description" binding:"required"`
	AmountDisputed *float64 `json:"amountDisputed,omitempty"`
	Urgency        Urgency  `json:"urgency,omitempty"`
	EvidenceFiles  []string `json:"evidenceFiles,omitempty"`
}

// Open creates a dispute between the opener and the other lease party.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Dispute, error) {
	if !ValidType(req.Type) {
		return nil, fmt.Errorf("unknown dispute type %q", req.Type)
	}
	if utf8.RuneCountInString(strings.TrimSpace(req.Description)) < s.minDescription {
		return nil, ErrDescriptionTooShort
	}
	if req.AmountDisputed != nil && *req.AmountDisputed < 0 {
		return nil, ErrInvalidAmount
	}

	lease, err := s.leases.Parties(ctx, req.LeaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up lease: %w", err)
	}
	if !lease.IsParty(req.OpenedBy) {
		return nil, ErrNotAParty
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = UrgencyNormal
	}

	d := &Dispute{
		ID:             idgen.WithPrefix("dsp_"),
		DisputeNumber:  newDisputeNumber(),
		LeaseID:        req.LeaseID,
		OpenedBy:       req.OpenedBy,
		AgainstUser:    lease.OtherParty(req.OpenedBy),
		Type:           req.Type,
		Description:    req.Description,
		AmountDisputed: req.AmountDisputed,
		Urgency:        urgency,
		EvidenceFiles:  req.EvidenceFiles,
		Status:         StatusOpen,
		OpenedAt:       time.Now(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusOpen)).Inc()
	s.emitter.EmitDisputeOpened(d.ID, d.DisputeNumber, d.LeaseID, d.OpenedBy, d.AgainstUser)
	return d, nil
}

// AssignMediator moves an open dispute to assigned and records the mediator.
// The assignment policy itself (load balancing across mediators) lives
// upstream; this only records the result.
func (s *Service) AssignMediator(ctx context.Context, disputeID, mediatorID string) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	d.Status = StatusAssigned
	d.AssignedTo = mediatorID
	d.AssignedAt = &now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusAssigned)).Inc()
	s.emitter.EmitDisputeAssigned(d.ID, mediatorID)
	return d, nil
}

// BeginMediation moves an assigned dispute to under_mediation.
func (s *Service) BeginMediation(ctx context.Context, disputeID, mediatorID string) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusAssigned {
		return nil, ErrInvalidTransition
	}
	if d.AssignedTo != mediatorID {
		return nil, ErrNotAssignedMediator
	}

	d.Status = StatusUnderMediation
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusUnderMediation)).Inc()
	s.emitter.EmitDisputeMediationStarted(d.ID, mediatorID)
	return d, nil
}

// ProposeResolution records the mediator's proposal and moves the dispute to
// awaiting_response. Both acceptance votes reset to unset on every proposal,
// including votes cast against an earlier proposal.
func (s *Service) ProposeResolution(ctx context.Context, disputeID, mediatorID, text string) (*Dispute, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyProposal
	}

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusUnderMediation && d.Status != StatusAwaitingResponse {
		return nil, ErrInvalidTransition
	}
	if d.AssignedTo != mediatorID {
		return nil, ErrNotAssignedMediator
	}

	d.Status = StatusAwaitingResponse
	d.ResolutionProposed = text
	d.OpenerVote = VoteUnset
	d.OpponentVote = VoteUnset
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusAwaitingResponse)).Inc()
	s.emitter.EmitDisputeResolutionProposed(d.ID, mediatorID, text)
	return d, nil
}

// Close administratively closes a dispute from any non-terminal state.
func (s *Service) Close(ctx context.Context, disputeID, adminID, reason string) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	d.Status = StatusClosed
	d.ClosedBy = adminID
	d.CloseReason = reason
	d.ClosedAt = &now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusClosed)).Inc()
	s.emitter.EmitDisputeClosed(d.ID, string(StatusClosed))
	return d, nil
}

// Get returns a dispute by ID.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// GetByNumber returns a dispute by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Dispute, error) {
	return s.store.GetByNumber(ctx, number)
}

// ListByParty returns disputes where the user is opener or opponent.
func (s *Service) ListByParty(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	return s.store.ListByParty(ctx, userID, clampLimit(limit))
}

// ListByMediator returns disputes assigned to the mediator.
func (s *Service) ListByMediator(ctx context.Context, mediatorID string, limit int) ([]*Dispute, error) {
	return s.store.ListByMediator(ctx, mediatorID, clampLimit(limit))
}

// ListByStatus returns disputes in the given status.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	return s.store.ListByStatus(ctx, status, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}

// newDisputeNumber produces a human-readable unique number like
// DSP-2026-3fa81c.
func newDisputeNumber() string {
	return fmt.Sprintf("DSP-%d-%s", time.Now().Year(), idgen.Hex(3))
}
