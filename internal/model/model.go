// Package model defines the core domain types shared across the insurance
// engine. Ledger amounts are uint64 in the smallest monetary unit; never
// float64 for money.
package model

import (
	"time"

	"github.com/liqguard/insurance-engine/internal/identity"
)

// Policy is one insured leveraged position. Everything except the claimed
// flag and timestamp is fixed at creation; those flip false→true once.
type Policy struct {
	ID               string           `json:"id" db:"policy_id"` // unique across ledger lifetimes
	Owner            identity.Address `json:"owner" db:"owner"`
	Index            uint64           `json:"index" db:"policy_index"` // per-owner sequence
	PositionSize     uint64           `json:"position_size" db:"position_size"`
	Leverage         uint64           `json:"leverage" db:"leverage"`
	LiquidationPrice uint64           `json:"liquidation_price" db:"liquidation_price"`
	PremiumPaid      uint64           `json:"premium_paid" db:"premium_paid"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	Claimed          bool             `json:"claimed" db:"claimed"`
	ClaimedAt        time.Time        `json:"claimed_at,omitempty" db:"claimed_at"`
}

// PoolStatus is the on-demand snapshot of the pool ledger.
type PoolStatus struct {
	Balance           uint64 `json:"balance"`
	TotalPremiums     uint64 `json:"total_premiums"`
	TotalClaims       uint64 `json:"total_claims"`
	ActivePolicyCount uint64 `json:"active_policy_count"`
	TotalLPShares     uint64 `json:"total_lp_shares"`
	Paused            bool   `json:"paused"`
}

// LPPosition is a provider's share holding and its current floating value.
type LPPosition struct {
	Provider         identity.Address `json:"provider"`
	Shares           uint64           `json:"shares"`
	UnderlyingValue  uint64           `json:"underlying_value"`
	AccruedYield     uint64           `json:"accrued_yield"`
	DepositTimestamp time.Time        `json:"deposit_timestamp"`
}

// Settlement is the ledger's receipt for a paid claim.
type Settlement struct {
	ID          string           `json:"id"`
	Owner       identity.Address `json:"owner"`
	PolicyIndex uint64           `json:"policy_index"`
	LossAmount  uint64           `json:"loss_amount"`
	Payout      uint64           `json:"payout"`
	SettledAt   time.Time        `json:"settled_at"`
}

// ClaimStatus is the off-chain settlement state of a claim record.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimPaid      ClaimStatus = "paid"
	ClaimFailed    ClaimStatus = "failed"
)

// ClaimRecord tracks a monitor-driven claim through settlement. One record
// exists per policy; failed records are retried in place.
type ClaimRecord struct {
	ID           string           `json:"id" db:"id"`
	PolicyID     string           `json:"policy_id" db:"policy_id"`
	Owner        identity.Address `json:"owner" db:"owner"`
	PolicyIndex  uint64           `json:"policy_index" db:"policy_index"`
	LossAmount   uint64           `json:"loss_amount" db:"loss_amount"`
	PayoutAmount uint64           `json:"payout_amount" db:"payout_amount"`
	Status       ClaimStatus      `json:"status" db:"status"`
	Receipt      string           `json:"receipt,omitempty" db:"receipt"`
	Attempts     int              `json:"attempts" db:"attempts"`
	LastError    string           `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// PayoutFor returns the claim payout for a declared loss: exactly half,
// floor-divided.
func PayoutFor(loss uint64) uint64 {
	return loss / 2
}

// LedgerEventType enumerates pool state changes mirrored for display.
type LedgerEventType string

const (
	EventPolicyPurchased     LedgerEventType = "policy_purchased"
	EventClaimPaid           LedgerEventType = "claim_paid"
	EventLPDeposit           LedgerEventType = "lp_deposit"
	EventLPWithdraw          LedgerEventType = "lp_withdraw"
	EventPaused              LedgerEventType = "paused"
	EventUnpaused            LedgerEventType = "unpaused"
	EventEmergencyWithdrawal LedgerEventType = "emergency_withdrawal"
	EventAdminChanged        LedgerEventType = "admin_changed"
	EventSettlerChanged      LedgerEventType = "settler_changed"
	EventVolatilityChanged   LedgerEventType = "volatility_changed"
)

// LedgerEvent is an immutable record of a committed ledger mutation.
// Once created, these are never modified or deleted.
type LedgerEvent struct {
	ID           string           `json:"id" db:"id"`
	Type         LedgerEventType  `json:"type" db:"type"`
	Actor        identity.Address `json:"actor" db:"actor"`               // caller, owner or provider
	Subject      identity.Address `json:"subject,omitempty" db:"subject"` // counterparty, e.g. new admin
	PolicyIndex  *uint64          `json:"policy_index,omitempty" db:"policy_index"`
	Amount       uint64           `json:"amount" db:"amount"`
	Shares       uint64           `json:"shares,omitempty" db:"shares"`
	BalanceAfter uint64           `json:"balance_after" db:"balance_after"`
	Timestamp    time.Time        `json:"timestamp" db:"timestamp"`
}

// Notification channels published by the claim pipeline and the pool.
const (
	ChannelLiquidations = "liquidations"
	ChannelClaims       = "claims"
	ChannelPool         = "pool"
)

// Notification event types.
const (
	NotifyLiquidationDetected = "liquidation.detected"
	NotifyClaimSubmitted      = "claim.submitted"
	NotifyClaimPaid           = "claim.paid"
	NotifyClaimFailed         = "claim.failed"
	NotifyLedger              = "ledger.event"
)

// Event is a notification delivered to external sinks (websocket, NATS).
type Event struct {
	Type         string           `json:"type"`
	Owner        identity.Address `json:"owner,omitempty"`
	PolicyIndex  *uint64          `json:"policy_index,omitempty"`
	LossAmount   string           `json:"loss_amount,omitempty"`
	PayoutAmount string           `json:"payout_amount,omitempty"`
	CurrentPrice string           `json:"current_price,omitempty"`
	Receipt      string           `json:"receipt,omitempty"`
	Error        string           `json:"error,omitempty"`
	Ledger       *LedgerEvent     `json:"ledger,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Uint64Ptr is a helper for optional index fields.
func Uint64Ptr(v uint64) *uint64 { return &v }
