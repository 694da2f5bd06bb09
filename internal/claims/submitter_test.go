package claims

import (
	"context"
	"errors"
	"testing"

	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/pool"
)

const unit = 1_000_000

var (
	admin  = identity.MustParse("0x000000000000000000000000000000000000ad01")
	trader = identity.MustParse("0x00000000000000000000000000000000000000a1")
	lp     = identity.MustParse("0x00000000000000000000000000000000000000b1")
)

func newPool(t *testing.T) *pool.Engine {
	t.Helper()
	e, err := pool.New(admin)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if _, err := e.Deposit(context.Background(), lp, 200*unit); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := e.BuyInsurance(context.Background(), trader, 100*unit, 10, 90*unit, 1_500_000); err != nil {
		t.Fatalf("buy: %v", err)
	}
	return e
}

func TestEngineSubmitter_SettlesOnLedger(t *testing.T) {
	e := newPool(t)
	s := NewEngineSubmitter(e, admin, nil)

	r, err := s.Settle(context.Background(), trader, 0, 100*unit)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if r.ID == "" || r.Payout != 50*unit {
		t.Errorf("unexpected receipt %+v", r)
	}
	if e.Status().Balance != 151_500_000 {
		t.Errorf("expected ledger balance 151.5 units, got %d", e.Status().Balance)
	}
	if st := s.Status(); st.TotalSubmissions != 1 || st.FailedSubmissions != 0 || st.Mode != ModeLive {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestEngineSubmitter_SurfacesLedgerErrors(t *testing.T) {
	e := newPool(t)
	s := NewEngineSubmitter(e, admin, nil)
	s.Settle(context.Background(), trader, 0, 100*unit)

	_, err := s.Settle(context.Background(), trader, 0, 100*unit)
	if !errors.Is(err, pool.ErrNoActivePolicy) {
		t.Errorf("expected ErrNoActivePolicy, got %v", err)
	}
	if st := s.Status(); st.FailedSubmissions != 1 || st.LastError == "" {
		t.Errorf("expected one failure recorded, got %+v", st)
	}
}

func TestEngineSubmitter_WrongAuthority(t *testing.T) {
	e := newPool(t)
	s := NewEngineSubmitter(e, trader, nil)
	if _, err := s.Settle(context.Background(), trader, 0, 2); !errors.Is(err, pool.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSimulatedSubmitter_DeterministicReceipts(t *testing.T) {
	s := NewSimulatedSubmitter(nil)
	for i, want := range []string{"sim-1", "sim-2", "sim-3"} {
		r, err := s.Settle(context.Background(), trader, uint64(i), 101)
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		if r.ID != want || r.Payout != 50 {
			t.Errorf("expected %s with payout 50, got %+v", want, r)
		}
	}
	subs := s.Submissions()
	if len(subs) != 3 || subs[1].PolicyIndex != 1 {
		t.Errorf("unexpected submissions %+v", subs)
	}
}

func TestSimulatedSubmitter_Failure(t *testing.T) {
	s := NewSimulatedSubmitter(nil)
	s.SetSimulateFailure(true)
	if _, err := s.Settle(context.Background(), trader, 0, 10); !errors.Is(err, ErrSimulatedFailure) {
		t.Errorf("expected ErrSimulatedFailure, got %v", err)
	}
	s.SetSimulateFailure(false)
	r, err := s.Settle(context.Background(), trader, 0, 10)
	if err != nil || r.ID != "sim-1" {
		t.Errorf("failed calls must not consume receipt numbers, got %+v (%v)", r, err)
	}
	if st := s.Status(); st.TotalSubmissions != 2 || st.FailedSubmissions != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestNew_Modes(t *testing.T) {
	e := newPool(t)
	if s, err := New(ModeLive, e, admin, nil); err != nil || s.Status().Mode != ModeLive {
		t.Errorf("live: %v", err)
	}
	if s, err := New(ModeSimulated, nil, "", nil); err != nil || s.Status().Mode != ModeSimulated {
		t.Errorf("simulated: %v", err)
	}
	if _, err := New(ModeLive, nil, admin, nil); err == nil {
		t.Error("live mode without a ledger must fail")
	}
	if _, err := New("chain", e, admin, nil); err == nil {
		t.Error("unknown mode must fail")
	}
}
