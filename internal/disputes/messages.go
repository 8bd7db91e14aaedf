package disputes

import (
	"context"
	"strings"
	"time"

	"github.com/lofthouse/trustdesk/internal/idgen"
	"github.com/lofthouse/trustdesk/internal/metrics"
)

// SendMessage appends a message to the dispute's log. Senders are restricted
// to the two parties and the assigned mediator, and messaging stops once the
// dispute reaches a terminal state. Messages never change dispute status.
func (s *Service) SendMessage(ctx context.Context, disputeID, senderID, text string, attachments []string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.IsTerminal() {
		return nil, ErrInvalidTransition
	}
	if !d.IsParty(senderID) && senderID != d.AssignedTo {
		return nil, ErrNotAParty
	}

	m := &Message{
		ID:          idgen.WithPrefix("msg_"),
		DisputeID:   disputeID,
		SenderID:    senderID,
		Message:     text,
		Attachments: attachments,
		SentAt:      time.Now(),
	}
	if err := s.store.AppendMessage(ctx, m); err != nil {
		return nil, err
	}

	metrics.DisputeMessagesTotal.Inc()
	s.emitter.EmitDisputeMessage(disputeID, m.ID, senderID)
	return m, nil
}

// ListMessages returns a page of the dispute's messages in send order
// (sentAt, then id for a stable total order) with an opaque cursor for the
// next page.
func (s *Service) ListMessages(ctx context.Context, disputeID string, limit int, cursor string) ([]*Message, string, error) {
	if _, err := s.store.Get(ctx, disputeID); err != nil {
		return nil, "", err
	}
	return s.store.ListMessages(ctx, disputeID, clampLimit(limit), cursor)
}
