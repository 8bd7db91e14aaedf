package trust

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/lofthouse/trustdesk/internal/profiles"
	"github.com/lofthouse/trustdesk/internal/webhooks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(profileStore profiles.Store) *Service {
	emitter := webhooks.NewEmitter(webhooks.NewDispatcher(webhooks.NewMemoryStore()), testLogger())
	return NewService(NewMemoryStore(), NewGate(nil), profileStore, emitter)
}

func eligibleUser(userID string) *profiles.Eligibility {
	return &profiles.Eligibility{
		UserID:            userID,
		AutomatedVerified: true,
		CompositeScore:    700,
	}
}

// ---------------------------------------------------------------------------
// Gate
// ---------------------------------------------------------------------------

func TestGate_RulesInOrder(t *testing.T) {
	gate := NewGate(nil)

	cases := []struct {
		name      string
		elig      *profiles.Eligibility
		hasActive bool
		want      error
	}{
		{
			name: "not automated verified",
			elig: &profiles.Eligibility{AutomatedVerified: false, CompositeScore: 800},
			want: ErrNotAutomatedVerified,
		},
		{
			name: "automated failure wins over low score",
			elig: &profiles.Eligibility{AutomatedVerified: false, CompositeScore: 100},
			want: ErrNotAutomatedVerified,
		},
		{
			name: "already verified",
			elig: &profiles.Eligibility{AutomatedVerified: true, TrustVerified: true, CompositeScore: 800},
			want: ErrAlreadyVerified,
		},
		{
			name: "score too low",
			elig: &profiles.Eligibility{AutomatedVerified: true, CompositeScore: 550},
			want: ErrScoreTooLow,
		},
		{
			name: "score exactly at threshold passes",
			elig: &profiles.Eligibility{AutomatedVerified: true, CompositeScore: 600},
			want: nil,
		},
		{
			name:      "request in flight",
			elig:      &profiles.Eligibility{AutomatedVerified: true, CompositeScore: 700},
			hasActive: true,
			want:      ErrRequestInFlight,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := gate.Check(tc.elig, tc.hasActive)
			if !errors.Is(err, tc.want) {
				t.Errorf("Check() = %v, want %v", err, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestSubmit_CreatesPendingRequest(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)

	r, err := svc.Submit(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %q, want %q", r.Status, StatusPending)
	}
	if r.RequestedAt.IsZero() {
		t.Error("requestedAt should be set")
	}
}

func TestSubmit_ScoreTooLow(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(&profiles.Eligibility{
		UserID:            "usr_1",
		AutomatedVerified: true,
		CompositeScore:    550,
	})
	svc := newTestService(profileStore)

	if _, err := svc.Submit(context.Background(), "usr_1"); !errors.Is(err, ErrScoreTooLow) {
		t.Errorf("Submit = %v, want ErrScoreTooLow", err)
	}
}

func TestSubmit_NotAutomatedVerified(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(&profiles.Eligibility{
		UserID:            "usr_1",
		AutomatedVerified: false,
		CompositeScore:    840,
	})
	svc := newTestService(profileStore)

	if _, err := svc.Submit(context.Background(), "usr_1"); !errors.Is(err, ErrNotAutomatedVerified) {
		t.Errorf("Submit = %v, want ErrNotAutomatedVerified", err)
	}
}

func TestSubmit_DuplicateUntilRejected(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	first, err := svc.Submit(ctx, "usr_1")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	if _, err := svc.Submit(ctx, "usr_1"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("second Submit = %v, want ErrRequestInFlight", err)
	}

	// Reject the first request, then a new submit is allowed.
	if _, err := svc.Assign(ctx, first.ID, "agt_1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Decide(ctx, first.ID, "agt_1", DecideRequest{
		Decision:        DecisionReject,
		RejectionReason: "documents inconsistent",
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if _, err := svc.Submit(ctx, "usr_1"); err != nil {
		t.Errorf("Submit after rejection: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Assign / Decide
// ---------------------------------------------------------------------------

func TestAssign_OnlyFromPending(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	if _, err := svc.Assign(ctx, r.ID, "agt_1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Assign(ctx, r.ID, "agt_2"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Assign = %v, want ErrInvalidTransition", err)
	}
}

func TestDecide_ApprovalInvariant(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	svc.Assign(ctx, r.ID, "agt_1")

	score := 85
	approved, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision:          DecisionApprove,
		DocumentsVerified: true,
		IdentityVerified:  true,
		TrustScore:        &score,
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if approved.Status != StatusApproved {
		t.Errorf("status = %q, want approved", approved.Status)
	}
	if approved.TrustScore == nil || *approved.TrustScore != 85 {
		t.Errorf("trustScore = %v, want 85", approved.TrustScore)
	}
	if approved.ValidatedAt == nil {
		t.Error("validatedAt must be set on approval")
	}

	// Approval writes through to the profile store.
	elig, err := profileStore.Eligibility(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Eligibility: %v", err)
	}
	if !elig.TrustVerified {
		t.Error("profile trustVerified should be set after approval")
	}
	if elig.AgentScore != 85 {
		t.Errorf("profile agentScore = %d, want 85", elig.AgentScore)
	}
}

// failingProfileStore simulates a profile service outage on the approval
// write-through path.
type failingProfileStore struct {
	profiles.Store
}

func (f *failingProfileStore) SetTrustVerified(context.Context, string, int) error {
	return errors.New("profile service unavailable")
}

func TestDecide_ApprovalSurvivesProfileWriteFailure(t *testing.T) {
	memStore := profiles.NewMemoryStore()
	memStore.Put(eligibleUser("usr_1"))

	var logs bytes.Buffer
	svc := newTestService(&failingProfileStore{Store: memStore}).
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	svc.Assign(ctx, r.ID, "agt_1")

	score := 70
	approved, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision:          DecisionApprove,
		DocumentsVerified: true,
		IdentityVerified:  true,
		TrustScore:        &score,
	})
	if err != nil {
		t.Fatalf("Decide must not fail on write-through error: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Errorf("status = %q, want approved", approved.Status)
	}

	// The failure is logged, not swallowed silently.
	if !strings.Contains(logs.String(), "write-through failed") {
		t.Errorf("expected write-through failure in logs, got %q", logs.String())
	}
}

func TestDecide_RejectionRequiresReason(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	svc.Assign(ctx, r.ID, "agt_1")

	if _, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision: DecisionReject,
	}); !errors.Is(err, ErrMissingRejectionReason) {
		t.Errorf("Decide = %v, want ErrMissingRejectionReason", err)
	}

	rejected, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision:        DecisionReject,
		RejectionReason: "submitted lease does not match identity",
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rejected.TrustScore != nil {
		t.Error("trustScore must not be set on rejection")
	}
	if rejected.ValidatedAt == nil {
		t.Error("validatedAt must be set on rejection")
	}
}

func TestDecide_OnlyAssignedAgent(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	svc.Assign(ctx, r.ID, "agt_1")

	score := 70
	if _, err := svc.Decide(ctx, r.ID, "agt_2", DecideRequest{
		Decision:   DecisionApprove,
		TrustScore: &score,
	}); !errors.Is(err, ErrNotAssignedAgent) {
		t.Errorf("Decide = %v, want ErrNotAssignedAgent", err)
	}
}

func TestDecide_TerminalIsFinal(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	svc.Assign(ctx, r.ID, "agt_1")

	score := 90
	if _, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision:   DecisionApprove,
		TrustScore: &score,
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if _, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision:        DecisionReject,
		RejectionReason: "changed my mind",
	}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Decide on terminal request = %v, want ErrInvalidTransition", err)
	}
}

func TestDecide_InvalidAgentScore(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	svc.Assign(ctx, r.ID, "agt_1")

	bad := 150
	if _, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision:   DecisionApprove,
		TrustScore: &bad,
	}); !errors.Is(err, ErrInvalidAgentScore) {
		t.Errorf("Decide = %v, want ErrInvalidAgentScore", err)
	}
	if _, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision: DecisionApprove,
	}); !errors.Is(err, ErrInvalidAgentScore) {
		t.Errorf("Decide without score = %v, want ErrInvalidAgentScore", err)
	}
}

// ---------------------------------------------------------------------------
// Additional info round trip
// ---------------------------------------------------------------------------

func TestRequestInfo_Resubmit(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "usr_1")
	svc.Assign(ctx, r.ID, "agt_1")

	infoReq, err := svc.Decide(ctx, r.ID, "agt_1", DecideRequest{
		Decision:                DecisionRequestInfo,
		AdditionalInfoRequested: "please provide a utility bill for the registered address",
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if infoReq.Status != StatusInfoRequired {
		t.Errorf("status = %q, want %q", infoReq.Status, StatusInfoRequired)
	}
	if infoReq.ValidatedAt != nil {
		t.Error("validatedAt must not be set for request_info")
	}

	// User resubmits: same record returns to pending.
	resubmitted, err := svc.Resubmit(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if resubmitted.ID != r.ID {
		t.Errorf("resubmit created a new record (%s != %s)", resubmitted.ID, r.ID)
	}
	if resubmitted.Status != StatusPending {
		t.Errorf("status = %q, want pending", resubmitted.Status)
	}
	if resubmitted.AdditionalInfoRequested != "" {
		t.Error("additionalInfoRequested should be cleared on resubmit")
	}
}

func TestResubmit_OnlyFromInfoRequired(t *testing.T) {
	profileStore := profiles.NewMemoryStore()
	profileStore.Put(eligibleUser("usr_1"))
	svc := newTestService(profileStore)
	ctx := context.Background()

	svc.Submit(ctx, "usr_1")
	if _, err := svc.Resubmit(ctx, "usr_1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resubmit from pending = %v, want ErrInvalidTransition", err)
	}
}
