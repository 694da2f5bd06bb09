package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) CreateClaim(ctx context.Context, c *model.ClaimRecord) error {
	if err := s.primary.CreateClaim(ctx, c); err != nil {
		return err
	}
	s.cacheClaim(ctx, c)
	s.rdb.Del(ctx, claimListKey(c.Owner))
	return nil
}

func (s *CachedStore) UpdateClaim(ctx context.Context, c *model.ClaimRecord) error {
	if err := s.primary.UpdateClaim(ctx, c); err != nil {
		return err
	}
	s.cacheClaim(ctx, c)
	s.rdb.Del(ctx, claimListKey(c.Owner))
	return nil
}

func (s *CachedStore) InsertLedgerEvent(ctx context.Context, ev *model.LedgerEvent) error {
	return s.primary.InsertLedgerEvent(ctx, ev)
}

// --- Read-through ---

func (s *CachedStore) GetClaim(ctx context.Context, id string) (*model.ClaimRecord, error) {
	data, err := s.rdb.Get(ctx, claimKey(id)).Bytes()
	if err == nil {
		var c model.ClaimRecord
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheClaim(ctx, c)
	return c, nil
}

func (s *CachedStore) GetClaimByPolicy(ctx context.Context, policyID string) (*model.ClaimRecord, error) {
	// Try cache via policy→claimID mapping.
	id, err := s.rdb.Get(ctx, policyKey(policyID)).Result()
	if err == nil {
		return s.GetClaim(ctx, id)
	}

	c, err := s.primary.GetClaimByPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	s.cacheClaim(ctx, c)
	return c, nil
}

// ListClaims caches only the unfiltered-by-status listing for one owner,
// which is what the per-user claims view reads.
func (s *CachedStore) ListClaims(ctx context.Context, f ClaimFilter) ([]model.ClaimRecord, error) {
	if f.Owner == "" || f.Status != "" || f.Limit != 0 {
		return s.primary.ListClaims(ctx, f)
	}

	data, err := s.rdb.Get(ctx, claimListKey(f.Owner)).Bytes()
	if err == nil {
		var claims []model.ClaimRecord
		if json.Unmarshal(data, &claims) == nil {
			return claims, nil
		}
	}

	claims, err := s.primary.ListClaims(ctx, f)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(claims); err == nil {
		s.rdb.Set(ctx, claimListKey(f.Owner), data, s.ttl)
	}
	return claims, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListLedgerEvents(ctx context.Context, f EventFilter) ([]model.LedgerEvent, error) {
	return s.primary.ListLedgerEvents(ctx, f)
}

// --- Cache helpers ---

func (s *CachedStore) cacheClaim(ctx context.Context, c *model.ClaimRecord) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, claimKey(c.ID), data, s.ttl)
		s.rdb.Set(ctx, policyKey(c.PolicyID), c.ID, s.ttl)
	}
}

func claimKey(id string) string { return fmt.Sprintf("claim:%s", id) }

func policyKey(policyID string) string { return fmt.Sprintf("claim-policy:%s", policyID) }

func claimListKey(owner identity.Address) string { return fmt.Sprintf("claims:%s", owner) }
