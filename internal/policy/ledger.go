// Package policy implements the policy ledger: the per-owner set of
// insurance policies, their claimed/active state and the active count.
//
// A Ledger never moves funds. It is not safe for concurrent use on its own;
// the pool engine owns one and serializes access under its lock.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
)

var (
	// ErrNoActivePolicy is returned when a policy index does not exist for
	// the owner or has already been claimed.
	ErrNoActivePolicy = errors.New("policy: no active policy")

	// ErrInvalidPolicy is returned when creation arguments violate the
	// policy invariants (non-zero size, leverage, liquidation price).
	ErrInvalidPolicy = errors.New("policy: invalid policy terms")
)

// Ledger holds every policy ever created, grouped by owner. Claimed
// policies stay as historical records.
type Ledger struct {
	byOwner map[identity.Address][]model.Policy
	active  uint64
}

// NewLedger creates an empty policy ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byOwner: make(map[identity.Address][]model.Policy),
	}
}

// Create appends a policy for owner and returns its per-owner index. Each
// policy also gets a random ID, so records keyed on it never collide with a
// policy from an earlier ledger that reused the same index.
func (l *Ledger) Create(owner identity.Address, positionSize, leverage, liquidationPrice, premiumPaid uint64, now time.Time) (uint64, error) {
	if owner.IsNull() || positionSize == 0 || leverage == 0 || liquidationPrice == 0 {
		return 0, ErrInvalidPolicy
	}
	idx := uint64(len(l.byOwner[owner]))
	l.byOwner[owner] = append(l.byOwner[owner], model.Policy{
		ID:               uuid.NewString(),
		Owner:            owner,
		Index:            idx,
		PositionSize:     positionSize,
		Leverage:         leverage,
		LiquidationPrice: liquidationPrice,
		PremiumPaid:      premiumPaid,
		CreatedAt:        now,
	})
	l.active++
	return idx, nil
}

// CheckActive returns nil iff the policy exists and is unclaimed.
func (l *Ledger) CheckActive(owner identity.Address, index uint64) error {
	policies := l.byOwner[owner]
	if index >= uint64(len(policies)) {
		return fmt.Errorf("%w: %s #%d does not exist", ErrNoActivePolicy, owner, index)
	}
	if policies[index].Claimed {
		return fmt.Errorf("%w: %s #%d already claimed", ErrNoActivePolicy, owner, index)
	}
	return nil
}

// MarkClaimed transitions a policy to claimed and decrements the active
// count. It fails with ErrNoActivePolicy if the index is unknown or the
// policy was already claimed.
func (l *Ledger) MarkClaimed(owner identity.Address, index uint64, now time.Time) error {
	if err := l.CheckActive(owner, index); err != nil {
		return err
	}
	p := &l.byOwner[owner][index]
	p.Claimed = true
	p.ClaimedAt = now
	l.active--
	return nil
}

// Get returns a copy of a policy.
func (l *Ledger) Get(owner identity.Address, index uint64) (model.Policy, bool) {
	policies := l.byOwner[owner]
	if index >= uint64(len(policies)) {
		return model.Policy{}, false
	}
	return policies[index], true
}

// HasActive reports whether owner holds at least one unclaimed policy.
func (l *Ledger) HasActive(owner identity.Address) bool {
	for _, p := range l.byOwner[owner] {
		if !p.Claimed {
			return true
		}
	}
	return false
}

// ActiveCount returns the number of unclaimed policies across all owners.
func (l *Ledger) ActiveCount() uint64 {
	return l.active
}

// ByOwner returns copies of all of owner's policies in index order.
func (l *Ledger) ByOwner(owner identity.Address) []model.Policy {
	src := l.byOwner[owner]
	out := make([]model.Policy, len(src))
	copy(out, src)
	return out
}

// Active returns copies of every unclaimed policy, ordered by owner then
// index so that iteration is deterministic.
func (l *Ledger) Active() []model.Policy {
	owners := make([]identity.Address, 0, len(l.byOwner))
	for o := range l.byOwner {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	out := make([]model.Policy, 0, l.active)
	for _, o := range owners {
		for _, p := range l.byOwner[o] {
			if !p.Claimed {
				out = append(out, p)
			}
		}
	}
	return out
}
