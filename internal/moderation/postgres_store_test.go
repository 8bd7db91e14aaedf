//go:build integration

package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lofthouse/trustdesk/internal/testutil"
)

func TestPostgres_DecideOnce(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	item := &QueueItem{
		ID:               "mod_pg_1",
		PropertyID:       "prop_pg_1",
		SuspicionScore:   75,
		SuspicionReasons: []string{"price_anomaly", "duplicate_photos"},
		Status:           StatusPending,
		EnqueuedAt:       time.Now().UTC(),
	}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// First decision wins
	now := time.Now().UTC()
	decided := *item
	decided.Status = StatusApproved
	decided.ModeratorID = "mod_alice"
	decided.ModeratorNotes = "listing checks out"
	decided.ModeratedAt = &now
	if err := store.DecideOnce(ctx, &decided); err != nil {
		t.Fatalf("DecideOnce failed: %v", err)
	}

	// A second decision on the same item is refused
	again := *item
	again.Status = StatusRejected
	again.ModeratorID = "mod_bob"
	again.ModeratedAt = &now
	err := store.DecideOnce(ctx, &again)
	if !errors.Is(err, ErrAlreadyModerated) {
		t.Errorf("second DecideOnce error = %v, want ErrAlreadyModerated", err)
	}

	// The stored decision is the first one
	got, err := store.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusApproved || got.ModeratorID != "mod_alice" {
		t.Errorf("stored decision = %s by %s, want approved by mod_alice", got.Status, got.ModeratorID)
	}

	// Deciding a missing item reports not-found
	missing := *item
	missing.ID = "mod_missing"
	missing.Status = StatusApproved
	err = store.DecideOnce(ctx, &missing)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("missing DecideOnce error = %v, want ErrItemNotFound", err)
	}
}

func TestPostgres_ListPendingExcludesDecided(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"mod_pg_a", "mod_pg_b", "mod_pg_c"} {
		item := &QueueItem{
			ID:             id,
			PropertyID:     "prop_pg_2",
			SuspicionScore: 50,
			Status:         StatusPending,
			EnqueuedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, item); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	now := time.Now().UTC()
	decided := &QueueItem{ID: "mod_pg_b", Status: StatusRejected, ModeratorID: "mod_alice", ModeratedAt: &now}
	if err := store.DecideOnce(ctx, decided); err != nil {
		t.Fatalf("DecideOnce failed: %v", err)
	}

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count = %d, want 2", len(pending))
	}
	// Oldest first
	if pending[0].ID != "mod_pg_a" || pending[1].ID != "mod_pg_c" {
		t.Errorf("pending order = %s, %s; want mod_pg_a, mod_pg_c", pending[0].ID, pending[1].ID)
	}

	n, err := store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountPending = %d, want 2", n)
	}
}
