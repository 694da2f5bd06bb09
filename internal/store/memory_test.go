package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
)

var (
	alice = identity.MustParse("0x00000000000000000000000000000000000a11ce")
	bob   = identity.MustParse("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func claim(id string, owner identity.Address, idx uint64, status model.ClaimStatus, at time.Time) *model.ClaimRecord {
	return &model.ClaimRecord{
		ID:           id,
		PolicyID:     policyID(owner, idx),
		Owner:        owner,
		PolicyIndex:  idx,
		LossAmount:   100,
		PayoutAmount: 50,
		Status:       status,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func policyID(owner identity.Address, idx uint64) string {
	return fmt.Sprintf("policy-%s-%d", owner, idx)
}

func TestCreateClaim_OnePerPolicy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateClaim(ctx, claim("c1", alice, 0, model.ClaimPending, t0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateClaim(ctx, claim("c2", alice, 0, model.ClaimPending, t0))
	if !errors.Is(err, ErrClaimExists) {
		t.Errorf("expected ErrClaimExists, got %v", err)
	}
	if err := s.CreateClaim(ctx, claim("c3", alice, 1, model.ClaimPending, t0)); err != nil {
		t.Errorf("other index must be allowed: %v", err)
	}
	noID := claim("c4", bob, 0, model.ClaimPending, t0)
	noID.PolicyID = ""
	if err := s.CreateClaim(ctx, noID); err == nil {
		t.Error("a record without a policy id must be rejected")
	}
}

func TestCreateClaim_ReusedIndexIsANewPolicy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := claim("c1", alice, 0, model.ClaimFailed, t0)
	if err := s.CreateClaim(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A restarted ledger hands out index 0 again under a fresh policy ID.
	fresh := claim("c2", alice, 0, model.ClaimPending, t0.Add(time.Hour))
	fresh.PolicyID = "policy-after-restart"
	fresh.LossAmount = 400
	if err := s.CreateClaim(ctx, fresh); err != nil {
		t.Fatalf("same owner and index with a new policy id must be allowed: %v", err)
	}

	got, err := s.GetClaimByPolicy(ctx, "policy-after-restart")
	if err != nil || got.ID != "c2" || got.LossAmount != 400 {
		t.Errorf("expected the new record, got %+v %v", got, err)
	}
	got, err = s.GetClaimByPolicy(ctx, old.PolicyID)
	if err != nil || got.ID != "c1" || got.Status != model.ClaimFailed {
		t.Errorf("expected the old record untouched, got %+v %v", got, err)
	}
}

func TestUpdateClaim(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c := claim("c1", alice, 0, model.ClaimPending, t0)
	s.CreateClaim(ctx, c)

	c.Status = model.ClaimPaid
	c.Receipt = "r-1"
	c.Attempts = 1
	if err := s.UpdateClaim(ctx, c); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetClaimByPolicy(ctx, c.PolicyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.ClaimPaid || got.Receipt != "r-1" || got.Attempts != 1 {
		t.Errorf("unexpected record %+v", got)
	}

	moved := *c
	moved.PolicyIndex = 9
	if err := s.UpdateClaim(ctx, &moved); err == nil {
		t.Error("changing the policy index must fail")
	}
	rebound := *c
	rebound.PolicyID = "another-policy"
	if err := s.UpdateClaim(ctx, &rebound); err == nil {
		t.Error("changing the policy id must fail")
	}
	if err := s.UpdateClaim(ctx, claim("nope", alice, 0, model.ClaimPaid, t0)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetClaim_ReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateClaim(ctx, claim("c1", alice, 0, model.ClaimPending, t0))

	got, _ := s.GetClaim(ctx, "c1")
	got.Status = model.ClaimPaid
	again, _ := s.GetClaim(ctx, "c1")
	if again.Status != model.ClaimPending {
		t.Error("mutating a returned record must not change the store")
	}
	if _, err := s.GetClaim(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetClaimByPolicy(ctx, policyID(bob, 0)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListClaims_FilterAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateClaim(ctx, claim("c1", alice, 0, model.ClaimPaid, t0))
	s.CreateClaim(ctx, claim("c2", alice, 1, model.ClaimFailed, t0.Add(time.Minute)))
	s.CreateClaim(ctx, claim("c3", bob, 0, model.ClaimPaid, t0.Add(2*time.Minute)))

	all, _ := s.ListClaims(ctx, ClaimFilter{})
	if len(all) != 3 || all[0].ID != "c3" || all[2].ID != "c1" {
		t.Errorf("expected newest first, got %v", ids(all))
	}
	mine, _ := s.ListClaims(ctx, ClaimFilter{Owner: alice})
	if len(mine) != 2 {
		t.Errorf("expected 2 for alice, got %v", ids(mine))
	}
	paid, _ := s.ListClaims(ctx, ClaimFilter{Status: model.ClaimPaid, Limit: 1})
	if len(paid) != 1 || paid[0].ID != "c3" {
		t.Errorf("expected newest paid claim only, got %v", ids(paid))
	}
}

func ids(cs []model.ClaimRecord) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestLedgerEvents_IdempotentAndNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	events := []model.LedgerEvent{
		{ID: "e1", Type: model.EventLPDeposit, Actor: alice, Amount: 10},
		{ID: "e2", Type: model.EventPolicyPurchased, Actor: bob, Amount: 2},
		{ID: "e3", Type: model.EventClaimPaid, Actor: bob, Amount: 1},
	}
	for i := range events {
		s.InsertLedgerEvent(ctx, &events[i])
	}
	s.InsertLedgerEvent(ctx, &events[0]) // duplicate delivery

	all, _ := s.ListLedgerEvents(ctx, EventFilter{})
	if len(all) != 3 || all[0].ID != "e3" {
		t.Fatalf("expected 3 events newest first, got %+v", all)
	}
	bobs, _ := s.ListLedgerEvents(ctx, EventFilter{Actor: bob, Limit: 1})
	if len(bobs) != 1 || bobs[0].ID != "e3" {
		t.Errorf("unexpected filtered events %+v", bobs)
	}
	deposits, _ := s.ListLedgerEvents(ctx, EventFilter{Type: model.EventLPDeposit})
	if len(deposits) != 1 || deposits[0].Actor != alice {
		t.Errorf("unexpected deposits %+v", deposits)
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) InsertLedgerEvent(context.Context, *model.LedgerEvent) error {
	return errors.New("db down")
}

func TestMirror_RecordsEvents(t *testing.T) {
	s := NewMemoryStore()
	m := NewMirror(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // committed events are mirrored even if the request is gone
	m.Record(ctx, model.LedgerEvent{ID: "e1", Type: model.EventPaused, Actor: alice})

	got, _ := s.ListLedgerEvents(context.Background(), EventFilter{})
	if len(got) != 1 || got[0].Type != model.EventPaused {
		t.Errorf("expected mirrored event, got %+v", got)
	}

	// Failures are swallowed.
	NewMirror(failingStore{NewMemoryStore()}, nil).Record(context.Background(), model.LedgerEvent{ID: "e2"})
}
