package disputes

import (
	"context"
	"strings"
	"time"

	"github.com/lofthouse/trustdesk/internal/metrics"
)

// SLA windows after which an unresolved dispute counts as stale.
const (
	UrgentStaleAge = 48 * time.Hour
	NormalStaleAge = 7 * 24 * time.Hour
)

// StaleAfter returns the default SLA window for the given urgency.
func StaleAfter(urgency Urgency) time.Duration {
	if urgency == UrgencyUrgent {
		return UrgentStaleAge
	}
	return NormalStaleAge
}

// IsStale reports whether a dispute opened at openedAt has exceeded the
// default SLA window as of now. Pure function: the sweep and any read path
// evaluate the same rule.
func IsStale(openedAt time.Time, urgency Urgency, now time.Time) bool {
	return now.Sub(openedAt) > StaleAfter(urgency)
}

// staleAfter is StaleAfter with the service's configured windows.
func (s *Service) staleAfter(urgency Urgency) time.Duration {
	if urgency == UrgencyUrgent {
		return s.urgentStaleAge
	}
	return s.normalStaleAge
}

// Escalate routes a dispute to arbitration. Permitted only while a mediator
// is involved (assigned, under_mediation, awaiting_response); escalation is
// always a mediator decision, never automatic.
func (s *Service) Escalate(ctx context.Context, disputeID, mediatorID string, destination Destination, reason string) (*Dispute, error) {
	if !ValidDestination(destination) {
		return nil, ErrInvalidDestination
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingEscalationReason
	}

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case StatusAssigned, StatusUnderMediation, StatusAwaitingResponse:
	default:
		return nil, ErrInvalidTransition
	}
	if d.AssignedTo != mediatorID {
		return nil, ErrNotAssignedMediator
	}

	now := time.Now()
	d.Status = StatusEscalated
	d.EscalatedTo = destination
	d.EscalationReason = reason
	d.EscalatedAt = &now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusEscalated)).Inc()
	s.emitter.EmitDisputeEscalated(d.ID, string(destination), reason)
	return d, nil
}

// SweepStale flags unresolved disputes past their SLA window. It emits a
// dispute.stale event per offender and updates the staleness gauge, but
// never escalates on its own. Returns the stale disputes found.
func (s *Service) SweepStale(ctx context.Context) ([]*Dispute, error) {
	unresolved, err := s.store.ListUnresolved(ctx, 500)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var stale []*Dispute
	for _, d := range unresolved {
		if now.Sub(d.OpenedAt) > s.staleAfter(d.Urgency) {
			stale = append(stale, d)
			s.emitter.EmitDisputeStale(d.ID, string(d.Urgency), now.Sub(d.OpenedAt).Hours())
		}
	}

	metrics.StaleDisputes.Set(float64(len(stale)))
	return stale, nil
}
