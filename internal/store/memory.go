package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/liqguard/insurance-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	claims   map[string]*model.ClaimRecord
	byPolicy map[string]string
	events   []model.LedgerEvent
	eventIDs map[string]bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:   make(map[string]*model.ClaimRecord),
		byPolicy: make(map[string]string),
		eventIDs: make(map[string]bool),
	}
}

func (s *MemoryStore) CreateClaim(_ context.Context, c *model.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.PolicyID == "" {
		return fmt.Errorf("claim %s: policy id is required", c.ID)
	}
	if _, ok := s.byPolicy[c.PolicyID]; ok {
		return fmt.Errorf("%w: policy %s (%s #%d)", ErrClaimExists, c.PolicyID, c.Owner, c.PolicyIndex)
	}
	if _, ok := s.claims[c.ID]; ok {
		return fmt.Errorf("claim %s already exists", c.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *c
	s.claims[c.ID] = &copy
	s.byPolicy[c.PolicyID] = c.ID
	return nil
}

func (s *MemoryStore) UpdateClaim(_ context.Context, c *model.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.claims[c.ID]
	if !ok {
		return fmt.Errorf("claim %s: %w", c.ID, ErrNotFound)
	}
	if existing.PolicyID != c.PolicyID || existing.Owner != c.Owner || existing.PolicyIndex != c.PolicyIndex {
		return fmt.Errorf("claim %s: policy reference is immutable", c.ID)
	}
	copy := *c
	s.claims[c.ID] = &copy
	return nil
}

func (s *MemoryStore) GetClaim(_ context.Context, id string) (*model.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", id, ErrNotFound)
	}
	copy := *c
	return &copy, nil
}

func (s *MemoryStore) GetClaimByPolicy(_ context.Context, policyID string) (*model.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPolicy[policyID]
	if !ok {
		return nil, fmt.Errorf("claim for policy %s: %w", policyID, ErrNotFound)
	}
	copy := *s.claims[id]
	return &copy, nil
}

func (s *MemoryStore) ListClaims(_ context.Context, f ClaimFilter) ([]model.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ClaimRecord
	for _, c := range s.claims {
		if f.Owner != "" && c.Owner != f.Owner {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertLedgerEvent(_ context.Context, ev *model.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventIDs[ev.ID] {
		return nil
	}
	s.eventIDs[ev.ID] = true
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) ListLedgerEvents(_ context.Context, f EventFilter) ([]model.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEvent
	// Appended in commit order; walk backwards for newest first.
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if f.Actor != "" && ev.Actor != f.Actor {
			continue
		}
		if f.Type != "" && ev.Type != f.Type {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
