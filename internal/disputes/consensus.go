package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/lofthouse/trustdesk/internal/metrics"
)

// Respond records a party's accept/reject vote on the proposed resolution.
// Each party answers exactly once per proposal; a second call fails with
// ErrAlreadyResponded. When the second accepting vote lands, the dispute
// transitions to resolved in the same write that records the vote, so two
// concurrent accepts cannot both skip the transition.
func (s *Service) Respond(ctx context.Context, disputeID, userID string, accepted bool) (*Dispute, error) {
	unlock, err := s.locks.LockContext(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var d *Dispute
	for attempt := 0; attempt < s.respondRetries; attempt++ {
		d, err = s.respondOnce(ctx, disputeID, userID, accepted)
		if !errors.Is(err, ErrStaleWrite) {
			break
		}
		metrics.VoteConflictsTotal.Inc()
	}
	if err != nil {
		return nil, err
	}

	if d.Status == StatusResolved {
		metrics.DisputesTotal.WithLabelValues(string(StatusResolved)).Inc()
		metrics.DisputeResolutionDuration.Observe(d.ResolvedAt.Sub(d.OpenedAt).Seconds())
		s.emitter.EmitDisputeResolved(d.ID, d.ResolutionFinal)
	}
	return d, nil
}

// respondOnce performs one optimistic read-modify-write cycle. The store's
// version check makes the write conditional: if another writer (the other
// party, or a mediator proposing anew) got in between, the update fails
// with ErrStaleWrite and the caller re-reads.
func (s *Service) respondOnce(ctx context.Context, disputeID, userID string, accepted bool) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusAwaitingResponse {
		return nil, ErrInvalidTransition
	}

	vote := VoteRejected
	if accepted {
		vote = VoteAccepted
	}

	switch userID {
	case d.OpenedBy:
		if d.OpenerVote != VoteUnset {
			return nil, ErrAlreadyResponded
		}
		d.OpenerVote = vote
	case d.AgainstUser:
		if d.OpponentVote != VoteUnset {
			return nil, ErrAlreadyResponded
		}
		d.OpponentVote = vote
	default:
		return nil, ErrNotAParty
	}

	// Both accepted: commit the resolved transition together with this
	// vote. A rejection leaves the dispute awaiting_response for the
	// mediator to propose again or escalate.
	if d.OpenerVote == VoteAccepted && d.OpponentVote == VoteAccepted {
		now := time.Now()
		d.Status = StatusResolved
		d.ResolutionFinal = d.ResolutionProposed
		d.ResolvedAt = &now
	}

	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
