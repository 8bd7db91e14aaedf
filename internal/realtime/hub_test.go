package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventDisputeMessage, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventDisputeMessage, EventDisputeStatus},
	}}

	messageEvent := &Event{Type: EventDisputeMessage}
	statusEvent := &Event{Type: EventDisputeStatus}
	moderationEvent := &Event{Type: EventModerationDecision}

	if !h.shouldSend(client, messageEvent) {
		t.Error("Should receive dispute_message events")
	}
	if !h.shouldSend(client, statusEvent) {
		t.Error("Should receive dispute_status events")
	}
	if h.shouldSend(client, moderationEvent) {
		t.Error("Should NOT receive moderation_decision events")
	}
}

func TestShouldSend_DisputeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		DisputeIDs: []string{"dsp_1"},
	}}

	matching := &Event{
		Type: EventDisputeMessage,
		Data: map[string]interface{}{"disputeId": "dsp_1", "senderId": "usr_a"},
	}
	notMatching := &Event{
		Type: EventDisputeMessage,
		Data: map[string]interface{}{"disputeId": "dsp_2", "senderId": "usr_a"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on disputeId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated disputes")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"usr_tenant"},
	}}

	matchingSender := &Event{
		Type: EventDisputeMessage,
		Data: map[string]interface{}{"disputeId": "dsp_1", "senderId": "usr_tenant"},
	}
	matchingUser := &Event{
		Type: EventValidationStatus,
		Data: map[string]interface{}{"requestId": "req_1", "userId": "usr_tenant"},
	}
	notMatching := &Event{
		Type: EventDisputeMessage,
		Data: map[string]interface{}{"disputeId": "dsp_1", "senderId": "usr_other"},
	}

	if !h.shouldSend(client, matchingSender) {
		t.Error("Should match on senderId")
	}
	if !h.shouldSend(client, matchingUser) {
		t.Error("Should match on userId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated users")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventDisputeStatus}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive everything")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle
// ---------------------------------------------------------------------------

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 16),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.BroadcastDisputeStatus("dsp_1", "resolved")

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("received empty broadcast payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive broadcast")
	}

	h.unregister <- client
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("send channel should be closed after unregister")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed after unregister")
	}
}

func TestHub_StatsTrackClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.register <- client

	deadline := time.After(2 * time.Second)
	for {
		stats := h.Stats()
		if stats["connectedClients"].(int) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stats never reflected the registered client")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
