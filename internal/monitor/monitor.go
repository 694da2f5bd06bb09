// Package monitor runs the liquidation-claim control loop.
//
// Each cycle reads the active policies, asks the position oracle about every
// one of them in parallel, and then settles detected liquidations one by one
// through the claim submitter. Cycles never overlap: a tick that fires while
// the previous cycle is still running is skipped, not queued.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/liqguard/insurance-engine/internal/amount"
	"github.com/liqguard/insurance-engine/internal/claims"
	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/metrics"
	"github.com/liqguard/insurance-engine/internal/model"
	"github.com/liqguard/insurance-engine/internal/notify"
	"github.com/liqguard/insurance-engine/internal/oracle"
	"github.com/liqguard/insurance-engine/internal/policy"
	"github.com/liqguard/insurance-engine/internal/store"
)

// ErrCycleInProgress is returned by RunOnce when another cycle holds the
// guard.
var ErrCycleInProgress = errors.New("monitor: cycle already in progress")

// alreadySettled is recorded on claims the ledger reports as claimed.
const alreadySettled = "already settled on ledger"

// PolicySource lists active policies. The pool engine satisfies it.
type PolicySource interface {
	ActivePolicies() []model.Policy
}

// Oracle decides whether a position is liquidated.
type Oracle interface {
	Check(ctx context.Context, owner identity.Address, p model.Policy) (oracle.Result, error)
}

// Config tunes a Monitor.
type Config struct {
	CheckTimeout time.Duration // per oracle call
	Concurrency  int           // parallel oracle calls per cycle
	Decimals     int32         // display scale for notification amounts
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CheckTimeout: 3 * time.Second,
		Concurrency:  8,
		Decimals:     6,
	}
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Checked        int           `json:"checked"`
	Liquidated     int           `json:"liquidated"`
	OracleErrors   int           `json:"oracle_errors"`
	Paid           int           `json:"paid"`
	Failed         int           `json:"failed"`
	AlreadySettled int           `json:"already_settled"`
}

// Monitor is the liquidation monitor.
type Monitor struct {
	policies  PolicySource
	oracle    Oracle
	submitter claims.Submitter
	store     store.Store
	sink      notify.Sink
	cfg       Config
	log       *zap.Logger
	now       func() time.Time

	guard *semaphore.Weighted

	lastMu sync.RWMutex
	last   *CycleReport
}

// New creates a Monitor. sink may be nil.
func New(policies PolicySource, o Oracle, sub claims.Submitter, st store.Store, sink notify.Sink, cfg Config, log *zap.Logger) *Monitor {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultConfig().CheckTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if sink == nil {
		sink = notify.NewMulti()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		policies:  policies,
		oracle:    o,
		submitter: sub,
		store:     st,
		sink:      sink,
		cfg:       cfg,
		log:       log.Named("monitor"),
		now:       func() time.Time { return time.Now().UTC() },
		guard:     semaphore.NewWeighted(1),
	}
}

// LastReport returns the most recent completed cycle, if any.
func (m *Monitor) LastReport() (CycleReport, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	if m.last == nil {
		return CycleReport{}, false
	}
	return *m.last, true
}

type checkResult struct {
	res oracle.Result
	err error
}

// RunOnce runs a single cycle. It returns ErrCycleInProgress without doing
// anything if a cycle is already running.
func (m *Monitor) RunOnce(ctx context.Context) (CycleReport, error) {
	if !m.guard.TryAcquire(1) {
		metrics.MonitorCycles.WithLabelValues("skipped").Inc()
		m.log.Debug("cycle skipped, previous still running")
		return CycleReport{}, ErrCycleInProgress
	}
	defer m.guard.Release(1)

	report := CycleReport{StartedAt: m.now()}
	start := time.Now()

	active := m.policies.ActivePolicies()
	report.Checked = len(active)
	checks := m.checkAll(ctx, active)

	// Settlement is sequential in iteration order; the ledger serializes
	// against API traffic on its own.
	for i, p := range active {
		if ctx.Err() != nil {
			break
		}
		c := checks[i]
		if c.err != nil {
			report.OracleErrors++
			metrics.OracleErrors.Inc()
			m.log.Warn("position check failed",
				zap.String("owner", p.Owner.String()),
				zap.Uint64("policy_index", p.Index),
				zap.Error(c.err),
			)
			continue
		}
		if !c.res.Liquidated {
			continue
		}
		report.Liquidated++
		m.settle(ctx, p, c.res, &report)
	}

	report.Duration = time.Since(start)
	metrics.MonitorCycles.WithLabelValues("completed").Inc()
	metrics.MonitorCycleDuration.Observe(report.Duration.Seconds())

	m.lastMu.Lock()
	r := report
	m.last = &r
	m.lastMu.Unlock()

	if report.Liquidated > 0 || report.OracleErrors > 0 {
		m.log.Info("cycle complete",
			zap.Int("checked", report.Checked),
			zap.Int("liquidated", report.Liquidated),
			zap.Int("paid", report.Paid),
			zap.Int("failed", report.Failed),
			zap.Int("oracle_errors", report.OracleErrors),
			zap.Duration("duration", report.Duration),
		)
	}
	return report, nil
}

// checkAll queries the oracle for every policy with bounded parallelism.
// Every call gets its own deadline; a failure is recorded, never returned.
func (m *Monitor) checkAll(ctx context.Context, active []model.Policy) []checkResult {
	out := make([]checkResult, len(active))
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, p := range active {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
			defer cancel()
			res, err := m.oracle.Check(cctx, p.Owner, p)
			out[i] = checkResult{res: res, err: err}
			return nil
		})
	}
	g.Wait()
	return out
}

// settle drives one liquidated policy through its claim record:
// Pending -> Submitted -> Paid | Failed. A Failed (or interrupted) record is
// retried in place; a Paid record is never resubmitted.
//
// Only one cycle runs at a time and it settles sequentially, so no two
// settle calls for the same policy overlap.
func (m *Monitor) settle(ctx context.Context, p model.Policy, res oracle.Result, report *CycleReport) {
	log := m.log.With(
		zap.String("policy_id", p.ID),
		zap.String("owner", p.Owner.String()),
		zap.Uint64("policy_index", p.Index),
	)

	rec, err := m.claimRecord(ctx, p, res)
	if err != nil {
		report.Failed++
		log.Error("claim record unavailable", zap.Error(err))
		return
	}
	if rec.Status == model.ClaimPaid {
		return
	}

	// The loss always comes from the live policy, never from a stored record.
	rec.LossAmount = p.PositionSize
	rec.PayoutAmount = model.PayoutFor(p.PositionSize)
	rec.Status = model.ClaimSubmitted
	rec.Attempts++
	rec.UpdatedAt = m.now()
	if err := m.store.UpdateClaim(ctx, rec); err != nil {
		report.Failed++
		log.Error("mark claim submitted", zap.Error(err))
		return
	}
	metrics.ClaimTransitions.WithLabelValues(string(model.ClaimSubmitted)).Inc()
	m.publish(model.NotifyClaimSubmitted, rec, "", "")

	receipt, err := m.submitter.Settle(ctx, p.Owner, p.Index, p.PositionSize)
	switch {
	case err == nil:
		rec.Status = model.ClaimPaid
		rec.Receipt = receipt.ID
		rec.PayoutAmount = receipt.Payout
		rec.LastError = ""
		report.Paid++
		log.Info("claim paid", zap.String("receipt", receipt.ID), zap.Uint64("payout", receipt.Payout))
	case errors.Is(err, policy.ErrNoActivePolicy):
		// A previous attempt reached the ledger; the policy cannot pay twice.
		rec.Status = model.ClaimPaid
		rec.LastError = alreadySettled
		report.AlreadySettled++
		log.Info("claim already settled on ledger")
	default:
		rec.Status = model.ClaimFailed
		rec.LastError = err.Error()
		report.Failed++
		log.Warn("claim settlement failed", zap.Int("attempt", rec.Attempts), zap.Error(err))
	}
	rec.UpdatedAt = m.now()
	if uerr := m.store.UpdateClaim(ctx, rec); uerr != nil {
		log.Error("record claim outcome", zap.String("status", string(rec.Status)), zap.Error(uerr))
	}
	metrics.ClaimTransitions.WithLabelValues(string(rec.Status)).Inc()

	switch {
	case rec.Status == model.ClaimFailed:
		m.publish(model.NotifyClaimFailed, rec, "", rec.LastError)
	case rec.LastError == "":
		m.publish(model.NotifyClaimPaid, rec, rec.Receipt, "")
	}
}

// claimRecord returns the policy's existing record or creates a Pending one
// and announces the liquidation. Records are keyed on the policy ID, so a
// record left by an earlier ledger for the same owner and index is never
// picked up for a new policy.
func (m *Monitor) claimRecord(ctx context.Context, p model.Policy, res oracle.Result) (*model.ClaimRecord, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("policy %s #%d has no id", p.Owner, p.Index)
	}
	rec, err := m.store.GetClaimByPolicy(ctx, p.ID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := m.now()
	rec = &model.ClaimRecord{
		ID:           uuid.NewString(),
		PolicyID:     p.ID,
		Owner:        p.Owner,
		PolicyIndex:  p.Index,
		LossAmount:   p.PositionSize,
		PayoutAmount: model.PayoutFor(p.PositionSize),
		Status:       model.ClaimPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreateClaim(ctx, rec); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	metrics.LiquidationsDetected.Inc()
	metrics.ClaimTransitions.WithLabelValues(string(model.ClaimPending)).Inc()

	m.sink.Publish(model.ChannelLiquidations, model.Event{
		Type:         model.NotifyLiquidationDetected,
		Owner:        p.Owner,
		PolicyIndex:  model.Uint64Ptr(p.Index),
		LossAmount:   amount.Format(rec.LossAmount, m.cfg.Decimals),
		CurrentPrice: amount.Format(res.CurrentPrice, m.cfg.Decimals),
		Timestamp:    now,
	})
	m.log.Info("liquidation detected",
		zap.String("policy_id", p.ID),
		zap.String("owner", p.Owner.String()),
		zap.Uint64("policy_index", p.Index),
		zap.Uint64("current_price", res.CurrentPrice),
		zap.Uint64("liquidation_price", p.LiquidationPrice),
	)
	return rec, nil
}

func (m *Monitor) publish(typ string, rec *model.ClaimRecord, receipt, errMsg string) {
	m.sink.Publish(model.ChannelClaims, model.Event{
		Type:         typ,
		Owner:        rec.Owner,
		PolicyIndex:  model.Uint64Ptr(rec.PolicyIndex),
		LossAmount:   amount.Format(rec.LossAmount, m.cfg.Decimals),
		PayoutAmount: amount.Format(rec.PayoutAmount, m.cfg.Decimals),
		Receipt:      receipt,
		Error:        errMsg,
		Timestamp:    m.now(),
	})
}
