// Package pool implements the pool accounting engine: pooled capital,
// proportional LP shares with fixed-APR yield, premium collection and
// claim payouts.
//
// The Engine is a single-writer ledger. Every mutation runs under one
// exclusive lock together with the policy ledger it owns, and reads take the
// shared lock, so no caller can observe a torn state. All amounts are uint64
// in the smallest monetary unit; every division truncates and every overflow
// is rejected with ErrArithmeticOverflow.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liqguard/insurance-engine/internal/amount"
	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/metrics"
	"github.com/liqguard/insurance-engine/internal/model"
	"github.com/liqguard/insurance-engine/internal/policy"
	"github.com/liqguard/insurance-engine/internal/pricing"
)

const (
	// SecondsPerYear is the yield accrual year (365 days).
	SecondsPerYear = 31_536_000

	// DefaultAPRBps is the LP yield rate when none is configured.
	DefaultAPRBps = 500
)

// EventSink receives ledger events after they are committed. Delivery is
// best-effort and must not block the caller for long.
type EventSink interface {
	Record(ctx context.Context, ev model.LedgerEvent)
}

type lpAccount struct {
	shares      uint64
	depositedAt time.Time
}

// Engine is the pool ledger. Create one with New and share the pointer with
// the API layer and the liquidation monitor.
type Engine struct {
	mu sync.RWMutex

	admin   identity.Address
	settler identity.Address
	paused  bool

	balance       uint64
	totalPremiums uint64
	totalClaims   uint64
	totalShares   uint64
	lps           map[identity.Address]*lpAccount
	policies      *policy.Ledger
	volatility    uint64

	// conservation bookkeeping
	deposited          uint64
	withdrawn          uint64
	emergencyWithdrawn uint64

	schedule *pricing.Schedule
	aprBps   uint64
	now      func() time.Time
	treasury Treasury
	sinks    []EventSink
	log      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSchedule sets the premium schedule (default pricing.Default()).
func WithSchedule(s *pricing.Schedule) Option {
	return func(e *Engine) { e.schedule = s }
}

// WithAPR sets the LP yield rate in basis points.
func WithAPR(bps uint64) Option {
	return func(e *Engine) { e.aprBps = bps }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTreasury sets the treasury used for outbound transfers.
func WithTreasury(t Treasury) Option {
	return func(e *Engine) { e.treasury = t }
}

// WithEventSink adds a ledger event sink. May be given more than once.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSettlementAuthority sets the identity allowed to submit claims. It
// defaults to the admin.
func WithSettlementAuthority(a identity.Address) Option {
	return func(e *Engine) { e.settler = a }
}

// WithVolatility sets the initial volatility input used for pricing.
func WithVolatility(v uint64) Option {
	return func(e *Engine) { e.volatility = v }
}

// New creates an empty, unpaused pool administered by admin.
func New(admin identity.Address, opts ...Option) (*Engine, error) {
	if admin.IsNull() {
		return nil, fmt.Errorf("%w: null admin", ErrInvalidInput)
	}
	e := &Engine{
		admin:    admin,
		lps:      make(map[identity.Address]*lpAccount),
		policies: policy.NewLedger(),
		schedule: pricing.Default(),
		aprBps:   DefaultAPRBps,
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.settler.IsNull() {
		e.settler = admin
	}
	if e.treasury == nil {
		e.treasury = NewBookTreasury()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e, nil
}

// --- Purchases and claims ---

// BuyInsurance creates a policy for owner. The full paid amount is credited
// to the pool, overpayment included.
func (e *Engine) BuyInsurance(ctx context.Context, owner identity.Address, positionSize, leverage, liquidationPrice, paid uint64) (model.Policy, error) {
	e.mu.Lock()
	p, ev, err := e.buyLocked(owner, positionSize, leverage, liquidationPrice, paid)
	e.mu.Unlock()

	e.finish(ctx, "buy_insurance", ev, err)
	if err != nil {
		return model.Policy{}, err
	}
	e.log.Info("policy purchased",
		zap.String("owner", owner.String()),
		zap.Uint64("policy_index", p.Index),
		zap.Uint64("position_size", positionSize),
		zap.Uint64("premium_paid", paid),
	)
	return p, nil
}

func (e *Engine) buyLocked(owner identity.Address, positionSize, leverage, liquidationPrice, paid uint64) (model.Policy, *model.LedgerEvent, error) {
	if e.paused {
		return model.Policy{}, nil, ErrPaused
	}
	if owner.IsNull() || positionSize == 0 || leverage == 0 || liquidationPrice == 0 {
		return model.Policy{}, nil, fmt.Errorf("%w: owner, position size, leverage and liquidation price are required", ErrInvalidInput)
	}
	required, err := e.schedule.Premium(positionSize, leverage, e.volatility)
	if err != nil {
		return model.Policy{}, nil, err
	}
	if paid < required {
		return model.Policy{}, nil, fmt.Errorf("%w: paid %d, required %d", ErrInsufficientPremium, paid, required)
	}
	balance, err := amount.Add(e.balance, paid)
	if err != nil {
		return model.Policy{}, nil, err
	}
	premiums, err := amount.Add(e.totalPremiums, paid)
	if err != nil {
		return model.Policy{}, nil, err
	}

	now := e.now()
	idx, err := e.policies.Create(owner, positionSize, leverage, liquidationPrice, paid, now)
	if err != nil {
		return model.Policy{}, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	e.balance = balance
	e.totalPremiums = premiums

	p, _ := e.policies.Get(owner, idx)
	return p, e.event(model.EventPolicyPurchased, owner, "", model.Uint64Ptr(idx), paid, 0, now), nil
}

// SubmitClaim settles a liquidation claim: the policy is marked claimed and
// half of lossAmount is transferred to the owner. Only the settlement
// authority may call it, and it is permitted while paused.
func (e *Engine) SubmitClaim(ctx context.Context, caller, owner identity.Address, policyIndex, lossAmount uint64) (model.Settlement, error) {
	e.mu.Lock()
	s, ev, err := e.claimLocked(ctx, caller, owner, policyIndex, lossAmount)
	e.mu.Unlock()

	e.finish(ctx, "submit_claim", ev, err)
	if err != nil {
		return model.Settlement{}, err
	}
	metrics.ClaimPayouts.Add(float64(s.Payout))
	e.log.Info("claim settled",
		zap.String("settlement_id", s.ID),
		zap.String("owner", owner.String()),
		zap.Uint64("policy_index", policyIndex),
		zap.Uint64("loss", lossAmount),
		zap.Uint64("payout", s.Payout),
	)
	return s, nil
}

func (e *Engine) claimLocked(ctx context.Context, caller, owner identity.Address, policyIndex, lossAmount uint64) (model.Settlement, *model.LedgerEvent, error) {
	if caller != e.settler {
		return model.Settlement{}, nil, fmt.Errorf("%w: %s is not the settlement authority", ErrNotAuthorized, caller)
	}
	if lossAmount == 0 || owner.IsNull() {
		return model.Settlement{}, nil, fmt.Errorf("%w: loss amount and owner are required", ErrInvalidInput)
	}
	if err := e.policies.CheckActive(owner, policyIndex); err != nil {
		return model.Settlement{}, nil, err
	}
	payout := model.PayoutFor(lossAmount)
	if payout > e.balance {
		return model.Settlement{}, nil, fmt.Errorf("%w: payout %d, balance %d", ErrInsufficientPoolBalance, payout, e.balance)
	}
	claims, err := amount.Add(e.totalClaims, payout)
	if err != nil {
		return model.Settlement{}, nil, err
	}

	// Transfer before commit: on failure nothing has been mutated yet.
	if payout > 0 {
		if err := e.treasury.Transfer(ctx, owner, payout); err != nil {
			return model.Settlement{}, nil, fmt.Errorf("pool: claim transfer: %w", err)
		}
	}

	now := e.now()
	if err := e.policies.MarkClaimed(owner, policyIndex, now); err != nil {
		// CheckActive passed under the same lock; this cannot happen.
		return model.Settlement{}, nil, err
	}
	e.balance -= payout
	e.totalClaims = claims

	s := model.Settlement{
		ID:          uuid.NewString(),
		Owner:       owner,
		PolicyIndex: policyIndex,
		LossAmount:  lossAmount,
		Payout:      payout,
		SettledAt:   now,
	}
	return s, e.event(model.EventClaimPaid, owner, caller, model.Uint64Ptr(policyIndex), payout, 0, now), nil
}

// --- Liquidity providers ---

// Deposit adds liquidity and returns the number of shares minted.
func (e *Engine) Deposit(ctx context.Context, provider identity.Address, amt uint64) (uint64, error) {
	e.mu.Lock()
	minted, ev, err := e.depositLocked(provider, amt)
	e.mu.Unlock()

	e.finish(ctx, "deposit", ev, err)
	if err != nil {
		return 0, err
	}
	e.log.Info("lp deposit",
		zap.String("provider", provider.String()),
		zap.Uint64("amount", amt),
		zap.Uint64("shares", minted),
	)
	return minted, nil
}

func (e *Engine) depositLocked(provider identity.Address, amt uint64) (uint64, *model.LedgerEvent, error) {
	if e.paused {
		return 0, nil, ErrPaused
	}
	if amt == 0 || provider.IsNull() {
		return 0, nil, fmt.Errorf("%w: deposit amount and provider are required", ErrInvalidInput)
	}

	var minted uint64
	switch {
	case e.totalShares == 0:
		minted = amt
	case e.balance == 0:
		// Outstanding shares over an empty pool have no price.
		return 0, nil, fmt.Errorf("%w: pool drained with %d shares outstanding", ErrInsufficientPoolBalance, e.totalShares)
	default:
		var err error
		if minted, err = amount.MulDiv(amt, e.totalShares, e.balance); err != nil {
			return 0, nil, err
		}
		if minted == 0 {
			return 0, nil, fmt.Errorf("%w: deposit too small to mint a share", ErrInvalidInput)
		}
	}

	balance, err := amount.Add(e.balance, amt)
	if err != nil {
		return 0, nil, err
	}
	total, err := amount.Add(e.totalShares, minted)
	if err != nil {
		return 0, nil, err
	}
	deposited, err := amount.Add(e.deposited, amt)
	if err != nil {
		return 0, nil, err
	}

	now := e.now()
	acct, ok := e.lps[provider]
	if !ok {
		acct = &lpAccount{}
		e.lps[provider] = acct
	}
	// acct.shares <= totalShares, so this cannot overflow once total passed.
	acct.shares += minted
	acct.depositedAt = now
	e.balance = balance
	e.totalShares = total
	e.deposited = deposited

	return minted, e.event(model.EventLPDeposit, provider, "", nil, amt, minted, now), nil
}

// Withdrawal describes a completed LP withdrawal.
type Withdrawal struct {
	Shares    uint64 `json:"shares"`
	Principal uint64 `json:"principal"` // underlying value of the burned shares
	Yield     uint64 `json:"yield"`     // accrued yield owed on them
	Payout    uint64 `json:"payout"`    // min(balance, principal+yield)
}

// Withdraw burns shares and pays their underlying value plus accrued yield,
// capped at the pool balance. Any shortfall is forfeited.
func (e *Engine) Withdraw(ctx context.Context, provider identity.Address, shares uint64) (Withdrawal, error) {
	e.mu.Lock()
	w, ev, err := e.withdrawLocked(ctx, provider, shares)
	e.mu.Unlock()

	e.finish(ctx, "withdraw", ev, err)
	if err != nil {
		return Withdrawal{}, err
	}
	e.log.Info("lp withdraw",
		zap.String("provider", provider.String()),
		zap.Uint64("shares", shares),
		zap.Uint64("principal", w.Principal),
		zap.Uint64("yield", w.Yield),
		zap.Uint64("payout", w.Payout),
	)
	return w, nil
}

func (e *Engine) withdrawLocked(ctx context.Context, provider identity.Address, shares uint64) (Withdrawal, *model.LedgerEvent, error) {
	if shares == 0 {
		return Withdrawal{}, nil, fmt.Errorf("%w: shares must be positive", ErrInvalidInput)
	}
	acct := e.lps[provider]
	if acct == nil || shares > acct.shares {
		var held uint64
		if acct != nil {
			held = acct.shares
		}
		return Withdrawal{}, nil, fmt.Errorf("%w: requested %d, held %d", ErrInsufficientShares, shares, held)
	}

	now := e.now()
	principal, yield, err := e.valueLocked(shares, acct.depositedAt, now)
	if err != nil {
		return Withdrawal{}, nil, err
	}
	owed, err := amount.Add(principal, yield)
	if err != nil {
		return Withdrawal{}, nil, err
	}
	payout := amount.Min(e.balance, owed)
	withdrawn, err := amount.Add(e.withdrawn, payout)
	if err != nil {
		return Withdrawal{}, nil, err
	}

	if payout > 0 {
		if err := e.treasury.Transfer(ctx, provider, payout); err != nil {
			return Withdrawal{}, nil, fmt.Errorf("pool: withdraw transfer: %w", err)
		}
	}

	acct.shares -= shares
	if acct.shares == 0 {
		delete(e.lps, provider)
	}
	e.totalShares -= shares
	e.balance -= payout
	e.withdrawn = withdrawn

	w := Withdrawal{Shares: shares, Principal: principal, Yield: yield, Payout: payout}
	return w, e.event(model.EventLPWithdraw, provider, "", nil, payout, shares, now), nil
}

// valueLocked returns the underlying value of shares and the yield accrued
// on it since depositedAt.
func (e *Engine) valueLocked(shares uint64, depositedAt, now time.Time) (principal, yield uint64, err error) {
	if e.totalShares == 0 {
		return 0, 0, nil
	}
	principal, err = amount.MulDiv(shares, e.balance, e.totalShares)
	if err != nil {
		return 0, 0, err
	}
	elapsed := now.Sub(depositedAt)
	if elapsed <= 0 {
		return principal, 0, nil
	}
	annual, err := amount.MulDiv(principal, e.aprBps, pricing.BpsDenominator)
	if err != nil {
		return 0, 0, err
	}
	yield, err = amount.MulDiv(annual, uint64(elapsed/time.Second), SecondsPerYear)
	if err != nil {
		return 0, 0, err
	}
	return principal, yield, nil
}

// --- Administration ---

// Pause stops new purchases and deposits. Claims, withdrawals and
// emergency withdrawals remain available.
func (e *Engine) Pause(ctx context.Context, caller identity.Address) error {
	return e.setPaused(ctx, caller, true)
}

// Unpause resumes purchases and deposits.
func (e *Engine) Unpause(ctx context.Context, caller identity.Address) error {
	return e.setPaused(ctx, caller, false)
}

func (e *Engine) setPaused(ctx context.Context, caller identity.Address, paused bool) error {
	op, evType := "pause", model.EventPaused
	if !paused {
		op, evType = "unpause", model.EventUnpaused
	}

	e.mu.Lock()
	ev, err := func() (*model.LedgerEvent, error) {
		if caller != e.admin {
			return nil, fmt.Errorf("%w: %s is not the admin", ErrNotAuthorized, caller)
		}
		if e.paused == paused {
			return nil, fmt.Errorf("%w: paused=%t", ErrAlreadyInState, paused)
		}
		e.paused = paused
		return e.event(evType, caller, "", nil, 0, 0, e.now()), nil
	}()
	e.mu.Unlock()

	e.finish(ctx, op, ev, err)
	if err == nil {
		e.log.Warn("pool pause state changed", zap.Bool("paused", paused), zap.String("admin", caller.String()))
	}
	return err
}

// EmergencyWithdraw moves amt from the pool to the admin. It is always
// available and always emits a ledger event.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller identity.Address, amt uint64) error {
	e.mu.Lock()
	ev, err := func() (*model.LedgerEvent, error) {
		if caller != e.admin {
			return nil, fmt.Errorf("%w: %s is not the admin", ErrNotAuthorized, caller)
		}
		if amt == 0 {
			return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
		}
		if amt > e.balance {
			return nil, fmt.Errorf("%w: requested %d, balance %d", ErrInsufficientBalance, amt, e.balance)
		}
		total, err := amount.Add(e.emergencyWithdrawn, amt)
		if err != nil {
			return nil, err
		}
		if err := e.treasury.Transfer(ctx, e.admin, amt); err != nil {
			return nil, fmt.Errorf("pool: emergency transfer: %w", err)
		}
		e.balance -= amt
		e.emergencyWithdrawn = total
		return e.event(model.EventEmergencyWithdrawal, caller, "", nil, amt, 0, e.now()), nil
	}()
	e.mu.Unlock()

	e.finish(ctx, "emergency_withdraw", ev, err)
	if err == nil {
		e.log.Warn("emergency withdrawal", zap.String("admin", caller.String()), zap.Uint64("amount", amt))
	}
	return err
}

// ChangeAdmin hands administration to newAdmin. The settlement authority
// is unchanged.
func (e *Engine) ChangeAdmin(ctx context.Context, caller, newAdmin identity.Address) error {
	return e.adminSet(ctx, "change_admin", caller, newAdmin, func() *model.LedgerEvent {
		e.admin = newAdmin
		return e.event(model.EventAdminChanged, caller, newAdmin, nil, 0, 0, e.now())
	})
}

// SetSettlementAuthority changes which identity may submit claims.
func (e *Engine) SetSettlementAuthority(ctx context.Context, caller, settler identity.Address) error {
	return e.adminSet(ctx, "set_settler", caller, settler, func() *model.LedgerEvent {
		e.settler = settler
		return e.event(model.EventSettlerChanged, caller, settler, nil, 0, 0, e.now())
	})
}

func (e *Engine) adminSet(ctx context.Context, op string, caller, target identity.Address, apply func() *model.LedgerEvent) error {
	e.mu.Lock()
	var ev *model.LedgerEvent
	var err error
	switch {
	case caller != e.admin:
		err = fmt.Errorf("%w: %s is not the admin", ErrNotAuthorized, caller)
	case target.IsNull():
		err = fmt.Errorf("%w: null identity", ErrInvalidInput)
	default:
		ev = apply()
	}
	e.mu.Unlock()

	e.finish(ctx, op, ev, err)
	if err == nil {
		e.log.Warn("authority changed", zap.String("op", op), zap.String("to", target.String()))
	}
	return err
}

// SetVolatility sets the volatility input priced into new policies.
func (e *Engine) SetVolatility(ctx context.Context, caller identity.Address, volatility uint64) error {
	e.mu.Lock()
	var ev *model.LedgerEvent
	var err error
	if caller != e.admin {
		err = fmt.Errorf("%w: %s is not the admin", ErrNotAuthorized, caller)
	} else {
		e.volatility = volatility
		ev = e.event(model.EventVolatilityChanged, caller, "", nil, volatility, 0, e.now())
	}
	e.mu.Unlock()

	e.finish(ctx, "set_volatility", ev, err)
	return err
}

// --- Reads ---

// Status returns a consistent snapshot of the pool.
func (e *Engine) Status() model.PoolStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() model.PoolStatus {
	return model.PoolStatus{
		Balance:           e.balance,
		TotalPremiums:     e.totalPremiums,
		TotalClaims:       e.totalClaims,
		ActivePolicyCount: e.policies.ActiveCount(),
		TotalLPShares:     e.totalShares,
		Paused:            e.paused,
	}
}

// LPPosition returns a provider's shares with their current value and
// accrued yield. Unknown providers get a zero position.
func (e *Engine) LPPosition(provider identity.Address) (model.LPPosition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos := model.LPPosition{Provider: provider}
	acct := e.lps[provider]
	if acct == nil {
		return pos, nil
	}
	principal, yield, err := e.valueLocked(acct.shares, acct.depositedAt, e.now())
	if err != nil {
		return model.LPPosition{}, err
	}
	pos.Shares = acct.shares
	pos.UnderlyingValue = principal
	pos.AccruedYield = yield
	pos.DepositTimestamp = acct.depositedAt
	return pos, nil
}

// TotalLPValue is the sum of every provider's underlying value, excluding
// yield. Truncation keeps it at or below the balance.
func (e *Engine) TotalLPValue() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total uint64
	for _, acct := range e.lps {
		v, err := amount.MulDiv(acct.shares, e.balance, e.totalShares)
		if err != nil {
			return 0, err
		}
		if total, err = amount.Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Policy returns a copy of one policy.
func (e *Engine) Policy(owner identity.Address, index uint64) (model.Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policies.Get(owner, index)
}

// Policies returns all of owner's policies, claimed ones included.
func (e *Engine) Policies(owner identity.Address) []model.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policies.ByOwner(owner)
}

// HasActivePolicy reports whether owner holds an unclaimed policy.
func (e *Engine) HasActivePolicy(owner identity.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policies.HasActive(owner)
}

// ActivePolicies returns every unclaimed policy in deterministic order.
func (e *Engine) ActivePolicies() []model.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policies.Active()
}

// Quote returns the premium currently required for a position.
func (e *Engine) Quote(positionSize, leverage uint64) (premium, volatility uint64, err error) {
	e.mu.RLock()
	volatility = e.volatility
	e.mu.RUnlock()
	premium, err = e.schedule.Premium(positionSize, leverage, volatility)
	return premium, volatility, err
}

// Schedule returns the engine's premium schedule.
func (e *Engine) Schedule() *pricing.Schedule { return e.schedule }

// Admin returns the current admin.
func (e *Engine) Admin() identity.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admin
}

// SettlementAuthority returns the identity allowed to submit claims.
func (e *Engine) SettlementAuthority() identity.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settler
}

// Volatility returns the volatility input applied to new purchases.
func (e *Engine) Volatility() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.volatility
}

// Accounting is the cumulative flow of funds through the pool. For every
// reachable state:
//
//	Balance == Deposited + Premiums - Claims - Withdrawn - EmergencyWithdrawn
type Accounting struct {
	Balance            uint64 `json:"balance"`
	Deposited          uint64 `json:"deposited"`
	Premiums           uint64 `json:"premiums"`
	Claims             uint64 `json:"claims"`
	Withdrawn          uint64 `json:"withdrawn"`
	EmergencyWithdrawn uint64 `json:"emergency_withdrawn"`
}

// Accounting returns the cumulative flow totals.
func (e *Engine) Accounting() Accounting {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Accounting{
		Balance:            e.balance,
		Deposited:          e.deposited,
		Premiums:           e.totalPremiums,
		Claims:             e.totalClaims,
		Withdrawn:          e.withdrawn,
		EmergencyWithdrawn: e.emergencyWithdrawn,
	}
}

// --- internals ---

// event builds a ledger event stamped with the post-mutation balance. Must
// be called with the write lock held, after the mutation.
func (e *Engine) event(t model.LedgerEventType, actor, subject identity.Address, idx *uint64, amt, shares uint64, at time.Time) *model.LedgerEvent {
	return &model.LedgerEvent{
		ID:           uuid.NewString(),
		Type:         t,
		Actor:        actor,
		Subject:      subject,
		PolicyIndex:  idx,
		Amount:       amt,
		Shares:       shares,
		BalanceAfter: e.balance,
		Timestamp:    at,
	}
}

// finish records metrics and delivers the event outside the lock.
func (e *Engine) finish(ctx context.Context, op string, ev *model.LedgerEvent, err error) {
	metrics.LedgerOperations.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		e.log.Debug("ledger operation rejected", zap.String("op", op), zap.Error(err))
		return
	}

	s := e.Status()
	metrics.PoolBalance.Set(float64(s.Balance))
	metrics.ActivePolicies.Set(float64(s.ActivePolicyCount))
	metrics.LPShares.Set(float64(s.TotalLPShares))

	if ev == nil {
		return
	}
	for _, sink := range e.sinks {
		sink.Record(ctx, *ev)
	}
}
