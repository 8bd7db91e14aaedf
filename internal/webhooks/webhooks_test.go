package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

// newTestDispatcher creates a dispatcher that skips SSRF checks for localhost test servers.
func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.urlValidator = noopValidator
	return d
}

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		UserID:    "usr_tenant1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventDisputeOpened},
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != sub.URL {
		t.Errorf("URL = %q, want %q", got.URL, sub.URL)
	}

	byUser, err := store.GetByUser(ctx, "usr_tenant1")
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(byUser) != 1 {
		t.Fatalf("GetByUser returned %d subs, want 1", len(byUser))
	}

	byEvent, err := store.GetByEvent(ctx, EventDisputeOpened)
	if err != nil {
		t.Fatalf("GetByEvent: %v", err)
	}
	if len(byEvent) != 1 {
		t.Fatalf("GetByEvent returned %d subs, want 1", len(byEvent))
	}

	byOther, err := store.GetByEvent(ctx, EventModerationDecided)
	if err != nil {
		t.Fatalf("GetByEvent: %v", err)
	}
	if len(byOther) != 0 {
		t.Errorf("GetByEvent for unsubscribed type returned %d subs, want 0", len(byOther))
	}

	if err := store.Delete(ctx, "wh_test1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "wh_test1"); err == nil {
		t.Error("Get after Delete should fail")
	}
}

func TestDispatcher_DeliversSignedPayload(t *testing.T) {
	var received atomic.Int32
	var gotSig, gotEvent string
	var gotBody []byte
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Trustdesk-Signature")
		gotEvent = r.Header.Get("X-Trustdesk-Event")
		gotBody, _ = io.ReadAll(r.Body)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "wh_1",
		UserID: "usr_tenant1",
		URL:    srv.URL,
		Secret: "topsecret",
		Events: []EventType{EventDisputeOpened},
		Active: true,
	})

	d := newTestDispatcher(store)
	event := &Event{
		ID:        "evt_1",
		Type:      EventDisputeOpened,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"disputeId": "dsp_abc"},
	}
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	if received.Load() != 1 {
		t.Fatalf("received %d deliveries, want 1", received.Load())
	}
	if gotEvent != string(EventDisputeOpened) {
		t.Errorf("event header = %q, want %q", gotEvent, EventDisputeOpened)
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Data["disputeId"] != "dsp_abc" {
		t.Errorf("payload disputeId = %v, want dsp_abc", decoded.Data["disputeId"])
	}
}

func TestDispatcher_SignsWithPlatformSecretFallback(t *testing.T) {
	var gotSig string
	var gotBody []byte
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Trustdesk-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "wh_1",
		UserID: "usr_tenant1",
		URL:    srv.URL,
		Events: []EventType{EventDisputeOpened},
		Active: true,
	})

	// No per-subscription secret: the platform secret signs instead.
	d := newTestDispatcher(store).WithSecret("platformsecret")
	event := &Event{
		ID:        "evt_1",
		Type:      EventDisputeOpened,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"disputeId": "dsp_abc"},
	}
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	mac := hmac.New(sha256.New, []byte("platformsecret"))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestDispatcher_SkipsUnsubscribedEvents(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "wh_1",
		UserID: "usr_tenant1",
		URL:    srv.URL,
		Events: []EventType{EventModerationDecided},
		Active: true,
	})

	d := newTestDispatcher(store)
	event := &Event{ID: "evt_1", Type: EventDisputeOpened, Timestamp: time.Now()}
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if received.Load() != 0 {
		t.Errorf("received %d deliveries for unsubscribed event, want 0", received.Load())
	}
}

func TestDispatcher_SkipsInactiveSubscriptions(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "wh_1",
		UserID: "usr_tenant1",
		URL:    srv.URL,
		Events: []EventType{EventDisputeOpened},
		Active: false,
	})

	d := newTestDispatcher(store)
	event := &Event{ID: "evt_1", Type: EventDisputeOpened, Timestamp: time.Now()}
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if received.Load() != 0 {
		t.Errorf("received %d deliveries for inactive subscription, want 0", received.Load())
	}
}

func TestDispatcher_TracksFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{
		ID:     "wh_1",
		UserID: "usr_tenant1",
		URL:    srv.URL,
		Events: []EventType{EventDisputeOpened},
		Active: true,
	}
	store.Create(context.Background(), sub)

	d := newTestDispatcher(store)
	d.send(context.Background(), sub, &Event{ID: "evt_1", Type: EventDisputeOpened, Timestamp: time.Now()})

	got, _ := store.Get(context.Background(), "wh_1")
	if got.LastError == "" {
		t.Error("LastError should be set after failed delivery")
	}
	if got.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", got.ConsecutiveFailures)
	}
}

func TestDispatcher_DisablesAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{
		ID:     "wh_1",
		UserID: "usr_tenant1",
		URL:    srv.URL,
		Events: []EventType{EventDisputeOpened},
		Active: true,
	}
	store.Create(context.Background(), sub)

	d := newTestDispatcher(store)
	for i := 0; i < maxConsecutiveFailures; i++ {
		d.send(context.Background(), sub, &Event{ID: "evt_1", Type: EventDisputeOpened, Timestamp: time.Now()})
	}

	got, _ := store.Get(context.Background(), "wh_1")
	if got.Active {
		t.Errorf("subscription should be disabled after %d consecutive failures", maxConsecutiveFailures)
	}
}

func TestDispatcher_SuccessResetsFailureCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{
		ID:                  "wh_1",
		UserID:              "usr_tenant1",
		URL:                 srv.URL,
		Events:              []EventType{EventDisputeOpened},
		Active:              true,
		ConsecutiveFailures: 4,
		LastError:           "status 502",
	}
	store.Create(context.Background(), sub)

	d := newTestDispatcher(store)
	d.send(context.Background(), sub, &Event{ID: "evt_1", Type: EventDisputeOpened, Timestamp: time.Now()})

	got, _ := store.Get(context.Background(), "wh_1")
	if got.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after success", got.ConsecutiveFailures)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty after success", got.LastError)
	}
	if got.LastSuccess == nil {
		t.Error("LastSuccess should be set after success")
	}
}

func TestValidateWebhookURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"loopback", "http://127.0.0.1/hook", true},
		{"localhost", "http://localhost:8080/hook", true},
		{"bad scheme", "ftp://example.com/hook", true},
		{"missing host", "https:///hook", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateWebhookURL(tc.url)
			if tc.wantErr && err == nil {
				t.Errorf("validateWebhookURL(%q) = nil, want error", tc.url)
			}
		})
	}
}
