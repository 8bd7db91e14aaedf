package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/lofthouse/trustdesk/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned,
// so a failed delivery can never roll back a state transition.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// --- Trust validation events ---

// EmitValidationSubmitted emits a validation.submitted event.
func (e *Emitter) EmitValidationSubmitted(requestID, userID string) {
	e.emit(EventValidationSubmitted, map[string]interface{}{
		"requestId": requestID,
		"userId":    userID,
	})
}

// EmitValidationAssigned emits a validation.assigned event.
func (e *Emitter) EmitValidationAssigned(requestID, userID, agentID string) {
	e.emit(EventValidationAssigned, map[string]interface{}{
		"requestId": requestID,
		"userId":    userID,
		"agentId":   agentID,
	})
}

// EmitValidationDecided emits validation.approved, validation.rejected or
// validation.info_requested depending on the decision outcome.
func (e *Emitter) EmitValidationDecided(eventType EventType, requestID, userID, agentID string, agentScore int) {
	e.emit(eventType, map[string]interface{}{
		"requestId":  requestID,
		"userId":     userID,
		"agentId":    agentID,
		"agentScore": agentScore,
	})
}

// --- Dispute events ---

// EmitDisputeOpened emits a dispute.opened event.
func (e *Emitter) EmitDisputeOpened(disputeID, disputeNumber, leaseID, initiatorID, respondentID string) {
	e.emit(EventDisputeOpened, map[string]interface{}{
		"disputeId":     disputeID,
		"disputeNumber": disputeNumber,
		"leaseId":       leaseID,
		"initiatorId":   initiatorID,
		"respondentId":  respondentID,
	})
}

// EmitDisputeAssigned emits a dispute.assigned event.
func (e *Emitter) EmitDisputeAssigned(disputeID, mediatorID string) {
	e.emit(EventDisputeAssigned, map[string]interface{}{
		"disputeId":  disputeID,
		"mediatorId": mediatorID,
	})
}

// EmitDisputeMediationStarted emits a dispute.mediation_started event.
func (e *Emitter) EmitDisputeMediationStarted(disputeID, mediatorID string) {
	e.emit(EventDisputeMediationStarted, map[string]interface{}{
		"disputeId":  disputeID,
		"mediatorId": mediatorID,
	})
}

// EmitDisputeResolutionProposed emits a dispute.resolution_proposed event.
func (e *Emitter) EmitDisputeResolutionProposed(disputeID, mediatorID, resolution string) {
	e.emit(EventDisputeResolutionProposed, map[string]interface{}{
		"disputeId":  disputeID,
		"mediatorId": mediatorID,
		"resolution": resolution,
	})
}

// EmitDisputeResolved emits a dispute.resolved event.
func (e *Emitter) EmitDisputeResolved(disputeID, resolution string) {
	e.emit(EventDisputeResolved, map[string]interface{}{
		"disputeId":  disputeID,
		"resolution": resolution,
	})
}

// EmitDisputeEscalated emits a dispute.escalated event.
func (e *Emitter) EmitDisputeEscalated(disputeID, destination, reason string) {
	e.emit(EventDisputeEscalated, map[string]interface{}{
		"disputeId":   disputeID,
		"destination": destination,
		"reason":      reason,
	})
}

// EmitDisputeClosed emits a dispute.closed event.
func (e *Emitter) EmitDisputeClosed(disputeID, outcome string) {
	e.emit(EventDisputeClosed, map[string]interface{}{
		"disputeId": disputeID,
		"outcome":   outcome,
	})
}

// EmitDisputeMessage emits a dispute.message event.
func (e *Emitter) EmitDisputeMessage(disputeID, messageID, senderID string) {
	e.emit(EventDisputeMessage, map[string]interface{}{
		"disputeId": disputeID,
		"messageId": messageID,
		"senderId":  senderID,
	})
}

// EmitDisputeStale emits a dispute.stale event.
func (e *Emitter) EmitDisputeStale(disputeID, priority string, ageHours float64) {
	e.emit(EventDisputeStale, map[string]interface{}{
		"disputeId": disputeID,
		"priority":  priority,
		"ageHours":  ageHours,
	})
}

// --- Moderation events ---

// EmitModerationEnqueued emits a moderation.enqueued event.
func (e *Emitter) EmitModerationEnqueued(itemID, contentType, contentID string) {
	e.emit(EventModerationEnqueued, map[string]interface{}{
		"itemId":      itemID,
		"contentType": contentType,
		"contentId":   contentID,
	})
}

// EmitModerationDecided emits a moderation.decided event.
func (e *Emitter) EmitModerationDecided(itemID, moderatorID, decision string) {
	e.emit(EventModerationDecided, map[string]interface{}{
		"itemId":      itemID,
		"moderatorId": moderatorID,
		"decision":    decision,
	})
}
