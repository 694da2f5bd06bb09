package pool

import (
	"errors"
	"fmt"

	"github.com/liqguard/insurance-engine/internal/amount"
	"github.com/liqguard/insurance-engine/internal/policy"
)

// Ledger errors. Every failed operation returns one of these (possibly
// wrapped with context) and leaves the ledger unchanged.
var (
	ErrPaused         = errors.New("pool: paused")
	ErrInvalidInput   = errors.New("pool: invalid input")
	ErrNotAuthorized  = errors.New("pool: not authorized")
	ErrAlreadyInState = errors.New("pool: already in requested state")

	// ErrInsufficientFunds is the parent of every funds shortfall; match the
	// specific variants below when the distinction matters.
	ErrInsufficientFunds = errors.New("pool: insufficient funds")

	ErrInsufficientPremium     = fmt.Errorf("%w: premium below required amount", ErrInsufficientFunds)
	ErrInsufficientPoolBalance = fmt.Errorf("%w: pool balance cannot cover payout", ErrInsufficientFunds)
	ErrInsufficientShares      = fmt.Errorf("%w: not enough LP shares", ErrInsufficientFunds)
	ErrInsufficientBalance     = fmt.Errorf("%w: amount exceeds pool balance", ErrInsufficientFunds)

	ErrNoActivePolicy     = policy.ErrNoActivePolicy
	ErrArithmeticOverflow = amount.ErrOverflow
)
