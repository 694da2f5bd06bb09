package pool

import (
	"context"
	"sync"
	"time"

	"github.com/liqguard/insurance-engine/internal/identity"
)

// Treasury moves funds out of pool custody. The engine calls it while
// holding the ledger lock and commits its own state only after Transfer
// returns nil, so a failed transfer leaves the ledger untouched.
type Treasury interface {
	Transfer(ctx context.Context, to identity.Address, amount uint64) error
}

// TransferRecord is one outbound movement booked by a BookTreasury.
type TransferRecord struct {
	To     identity.Address `json:"to"`
	Amount uint64           `json:"amount"`
	At     time.Time        `json:"at"`
}

// BookTreasury is an in-memory Treasury that books every transfer. It is
// the default for single-process deployments and tests.
type BookTreasury struct {
	mu        sync.Mutex
	transfers []TransferRecord
	paid      map[identity.Address]uint64
}

// NewBookTreasury creates an empty book.
func NewBookTreasury() *BookTreasury {
	return &BookTreasury{paid: make(map[identity.Address]uint64)}
}

func (b *BookTreasury) Transfer(ctx context.Context, to identity.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transfers = append(b.transfers, TransferRecord{To: to, Amount: amount, At: time.Now().UTC()})
	b.paid[to] += amount
	return nil
}

// PaidTo returns the cumulative amount transferred to an address.
func (b *BookTreasury) PaidTo(to identity.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paid[to]
}

// Transfers returns a copy of the transfer log.
func (b *BookTreasury) Transfers() []TransferRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TransferRecord, len(b.transfers))
	copy(out, b.transfers)
	return out
}
