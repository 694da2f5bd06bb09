// Package store defines persistence for the claim pipeline and the ledger
// read model. Implementations include PostgreSQL, a Redis read-through
// cache, and in-memory (for tests and single-process runs).
//
// Nothing here is a source of truth for pool state: the engine owns the
// ledger, and the store only tracks claim records and mirrors committed
// ledger events for display.
package store

import (
	"context"
	"errors"

	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrClaimExists is returned when a claim record already exists for a
	// policy. At most one record exists per (owner, policy index).
	ErrClaimExists = errors.New("store: claim already exists for policy")
)

// ClaimFilter narrows ListClaims. Zero values match everything.
type ClaimFilter struct {
	Owner  identity.Address
	Status model.ClaimStatus
	Limit  int
}

// EventFilter narrows ListLedgerEvents. Zero values match everything.
type EventFilter struct {
	Actor identity.Address
	Type  model.LedgerEventType
	Limit int
}

// Store is the persistence interface.
type Store interface {
	// --- Claim records ---

	// CreateClaim persists a new claim record. Fails with ErrClaimExists if
	// one already exists for the same policy ID.
	CreateClaim(ctx context.Context, c *model.ClaimRecord) error

	// UpdateClaim overwrites the mutable fields of an existing record.
	UpdateClaim(ctx context.Context, c *model.ClaimRecord) error

	// GetClaim retrieves a record by ID.
	GetClaim(ctx context.Context, id string) (*model.ClaimRecord, error)

	// GetClaimByPolicy retrieves the record for a policy by its ledger ID.
	// An owner/index pair is not enough: a restarted ledger reuses indexes.
	GetClaimByPolicy(ctx context.Context, policyID string) (*model.ClaimRecord, error)

	// ListClaims returns records newest first.
	ListClaims(ctx context.Context, f ClaimFilter) ([]model.ClaimRecord, error)

	// --- Ledger mirror ---

	// InsertLedgerEvent appends an immutable ledger event. Inserting the
	// same event ID twice is a no-op.
	InsertLedgerEvent(ctx context.Context, ev *model.LedgerEvent) error

	// ListLedgerEvents returns events newest first.
	ListLedgerEvents(ctx context.Context, f EventFilter) ([]model.LedgerEvent, error)
}
