package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lofthouse/trustdesk/internal/idgen"
	"github.com/lofthouse/trustdesk/internal/metrics"
	"github.com/lofthouse/trustdesk/internal/profiles"
	"github.com/lofthouse/trustdesk/internal/webhooks"
)

// Service implements manual trust validation business logic.
type Service struct {
	store    Store
	gate     *Gate
	profiles profiles.Store
	emitter  *webhooks.Emitter
	logger   *slog.Logger
}

// NewService creates a new validation service.
func NewService(store Store, gate *Gate, profileStore profiles.Store, emitter *webhooks.Emitter) *Service {
	return &Service{
		store:    store,
		gate:     gate,
		profiles: profileStore,
		emitter:  emitter,
		logger:   slog.Default(),
	}
}

// WithLogger overrides the service logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Submit runs the eligibility gate and creates a pending validation request.
// Exactly one non-rejected request may exist per user at a time.
func (s *Service) Submit(ctx context.Context, userID string) (*ValidationRequest, error) {
	elig, err := s.profiles.Eligibility(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load eligibility: %w", err)
	}

	active, err := s.store.GetActiveByUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrRequestNotFound) {
		return nil, fmt.Errorf("failed to check active request: %w", err)
	}

	if err := s.gate.Check(elig, active != nil); err != nil {
		return nil, err
	}

	r := &ValidationRequest{
		ID:          idgen.WithPrefix("req_"),
		UserID:      userID,
		Status:      StatusPending,
		RequestedAt: time.Now(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	metrics.ValidationRequestsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.emitter.EmitValidationSubmitted(r.ID, userID)
	return r, nil
}

// Resubmit returns an additional_info_required request to pending after the
// user supplied the requested information. The same record is reused.
func (s *Service) Resubmit(ctx context.Context, userID string) (*ValidationRequest, error) {
	r, err := s.store.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusInfoRequired {
		return nil, ErrInvalidTransition
	}

	r.Status = StatusPending
	r.AdditionalInfoRequested = ""
	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	metrics.ValidationRequestsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.emitter.EmitValidationSubmitted(r.ID, userID)
	return r, nil
}

// Assign moves a pending request to under_review and records the agent.
func (s *Service) Assign(ctx context.Context, requestID, agentID string) (*ValidationRequest, error) {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	r.Status = StatusUnderReview
	r.AssignedTo = agentID
	r.AssignedAt = &now
	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	metrics.ValidationRequestsTotal.WithLabelValues(string(StatusUnderReview)).Inc()
	s.emitter.EmitValidationAssigned(r.ID, r.UserID, agentID)
	return r, nil
}

// Decide records the assigned agent's ruling. Approval writes the agent
// score through to the profile store.
func (s *Service) Decide(ctx context.Context, requestID, agentID string, req DecideRequest) (*ValidationRequest, error) {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.IsTerminal() || r.Status != StatusUnderReview {
		return nil, ErrInvalidTransition
	}
	if r.AssignedTo != agentID {
		return nil, ErrNotAssignedAgent
	}

	r.DocumentsVerified = req.DocumentsVerified
	r.IdentityVerified = req.IdentityVerified
	r.BackgroundCheck = req.BackgroundCheck
	r.InterviewCompleted = req.InterviewCompleted
	r.AgentNotes = req.AgentNotes

	now := time.Now()
	var event webhooks.EventType
	var agentScore int

	switch req.Decision {
	case DecisionApprove:
		if req.TrustScore == nil || *req.TrustScore < 0 || *req.TrustScore > 100 {
			return nil, ErrInvalidAgentScore
		}
		score := *req.TrustScore
		r.Status = StatusApproved
		r.TrustScore = &score
		r.ValidatedAt = &now
		event = webhooks.EventValidationApproved
		agentScore = score
	case DecisionReject:
		if req.RejectionReason == "" {
			return nil, ErrMissingRejectionReason
		}
		r.Status = StatusRejected
		r.RejectionReason = req.RejectionReason
		r.ValidatedAt = &now
		event = webhooks.EventValidationRejected
	case DecisionRequestInfo:
		if req.AdditionalInfoRequested == "" {
			return nil, ErrMissingInfoRequest
		}
		r.Status = StatusInfoRequired
		r.AdditionalInfoRequested = req.AdditionalInfoRequested
		event = webhooks.EventValidationInfoRequested
	default:
		return nil, fmt.Errorf("unknown decision %q", req.Decision)
	}

	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	if r.Status == StatusApproved {
		// Downstream profile flag. A failure here must not roll back the
		// decision; the transition is the source of truth.
		if err := s.profiles.SetTrustVerified(ctx, r.UserID, agentScore); err != nil {
			s.logger.Warn("trust flag write-through failed",
				"request_id", r.ID, "user_id", r.UserID, "error", err)
		}
	}

	metrics.ValidationRequestsTotal.WithLabelValues(string(r.Status)).Inc()
	metrics.ValidationDecisionDuration.Observe(now.Sub(r.RequestedAt).Seconds())
	s.emitter.EmitValidationDecided(event, r.ID, r.UserID, agentID, agentScore)
	return r, nil
}

// Get returns a validation request by ID.
func (s *Service) Get(ctx context.Context, id string) (*ValidationRequest, error) {
	return s.store.Get(ctx, id)
}

// GetByUser returns the user's active (non-rejected) request.
func (s *Service) GetByUser(ctx context.Context, userID string) (*ValidationRequest, error) {
	return s.store.GetActiveByUser(ctx, userID)
}

// ListByStatus returns requests in the given status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*ValidationRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}
