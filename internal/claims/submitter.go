// Package claims provides the claim submitter: the single entry point the
// liquidation monitor uses to request settlement of a claim.
//
// Two variants exist. EngineSubmitter settles against the live pool ledger;
// SimulatedSubmitter books settlements in memory with deterministic receipts.
// The variant is chosen once at construction. Neither retries internally;
// retries belong to the monitor.
package claims

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
)

// Modes accepted by New.
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// ErrSimulatedFailure is returned by a SimulatedSubmitter set to fail.
var ErrSimulatedFailure = errors.New("claims: simulated settlement failure")

// Receipt identifies a completed settlement.
type Receipt struct {
	ID        string    `json:"id"`
	Payout    uint64    `json:"payout"`
	SettledAt time.Time `json:"settled_at"`
}

// Status summarizes a submitter's activity.
type Status struct {
	Mode              string    `json:"mode"`
	TotalSubmissions  int64     `json:"total_submissions"`
	FailedSubmissions int64     `json:"failed_submissions"`
	LastSubmitTime    time.Time `json:"last_submit_time"`
	LastError         string    `json:"last_error,omitempty"`
}

// Submitter settles a claim and returns its receipt.
type Submitter interface {
	Settle(ctx context.Context, owner identity.Address, policyIndex, lossAmount uint64) (Receipt, error)
	Status() Status
}

// Ledger is the part of the pool engine a live submitter needs.
type Ledger interface {
	SubmitClaim(ctx context.Context, caller, owner identity.Address, policyIndex, lossAmount uint64) (model.Settlement, error)
}

// New builds the submitter for mode. The simulated variant ignores ledger
// and authority.
func New(mode string, ledger Ledger, authority identity.Address, log *zap.Logger) (Submitter, error) {
	switch mode {
	case ModeLive, "":
		if ledger == nil {
			return nil, errors.New("claims: live submitter needs a ledger")
		}
		return NewEngineSubmitter(ledger, authority, log), nil
	case ModeSimulated:
		return NewSimulatedSubmitter(log), nil
	default:
		return nil, fmt.Errorf("claims: unknown submitter mode %q", mode)
	}
}

// tracker holds the bookkeeping both variants share.
type tracker struct {
	mu     sync.Mutex
	status Status
}

func (t *tracker) observe(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalSubmissions++
	t.status.LastSubmitTime = time.Now().UTC()
	if err != nil {
		t.status.FailedSubmissions++
		t.status.LastError = err.Error()
	}
}

func (t *tracker) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// EngineSubmitter settles claims on the pool ledger as the settlement
// authority.
type EngineSubmitter struct {
	ledger    Ledger
	authority identity.Address
	log       *zap.Logger
	tracker
}

// NewEngineSubmitter creates a live submitter.
func NewEngineSubmitter(ledger Ledger, authority identity.Address, log *zap.Logger) *EngineSubmitter {
	if log == nil {
		log = zap.NewNop()
	}
	s := &EngineSubmitter{ledger: ledger, authority: authority, log: log.Named("submitter")}
	s.status.Mode = ModeLive
	return s
}

func (s *EngineSubmitter) Settle(ctx context.Context, owner identity.Address, policyIndex, lossAmount uint64) (Receipt, error) {
	settlement, err := s.ledger.SubmitClaim(ctx, s.authority, owner, policyIndex, lossAmount)
	s.observe(err)
	if err != nil {
		return Receipt{}, err
	}
	s.log.Debug("settled on ledger",
		zap.String("receipt", settlement.ID),
		zap.String("owner", owner.String()),
		zap.Uint64("policy_index", policyIndex),
	)
	return Receipt{ID: settlement.ID, Payout: settlement.Payout, SettledAt: settlement.SettledAt}, nil
}

func (s *EngineSubmitter) Status() Status { return s.snapshot() }

// Submission is one call recorded by a SimulatedSubmitter.
type Submission struct {
	Owner       identity.Address
	PolicyIndex uint64
	LossAmount  uint64
	Receipt     Receipt
}

// SimulatedSubmitter records settlements without touching a ledger.
// Receipts are "sim-1", "sim-2", ... in call order.
type SimulatedSubmitter struct {
	log *zap.Logger
	tracker

	subMu       sync.Mutex
	submissions []Submission
	seq         int64
	fail        bool
}

// NewSimulatedSubmitter creates a simulated submitter.
func NewSimulatedSubmitter(log *zap.Logger) *SimulatedSubmitter {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SimulatedSubmitter{log: log.Named("submitter")}
	s.status.Mode = ModeSimulated
	return s
}

func (s *SimulatedSubmitter) Settle(ctx context.Context, owner identity.Address, policyIndex, lossAmount uint64) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		s.observe(err)
		return Receipt{}, err
	}

	s.subMu.Lock()
	if s.fail {
		s.subMu.Unlock()
		s.observe(ErrSimulatedFailure)
		return Receipt{}, ErrSimulatedFailure
	}
	s.seq++
	r := Receipt{
		ID:        fmt.Sprintf("sim-%d", s.seq),
		Payout:    model.PayoutFor(lossAmount),
		SettledAt: time.Now().UTC(),
	}
	s.submissions = append(s.submissions, Submission{
		Owner:       owner,
		PolicyIndex: policyIndex,
		LossAmount:  lossAmount,
		Receipt:     r,
	})
	s.subMu.Unlock()

	s.observe(nil)
	s.log.Info("simulated settlement",
		zap.String("receipt", r.ID),
		zap.String("owner", owner.String()),
		zap.Uint64("policy_index", policyIndex),
		zap.Uint64("payout", r.Payout),
	)
	return r, nil
}

func (s *SimulatedSubmitter) Status() Status { return s.snapshot() }

// Submissions returns every recorded settlement.
func (s *SimulatedSubmitter) Submissions() []Submission {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// SetSimulateFailure makes every subsequent Settle fail until cleared.
func (s *SimulatedSubmitter) SetSimulateFailure(fail bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.fail = fail
}
