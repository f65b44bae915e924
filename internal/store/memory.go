package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]*model.Pool
	positions map[model.PositionKey]*model.Position
	margins   map[string]*model.Margin
	ledger    []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]*model.Pool),
		positions: make(map[model.PositionKey]*model.Position),
		margins:   make(map[string]*model.Margin),
	}
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, errs.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]*model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p.Clone())
	}
	sort.Slice(pools, func(i, j int) bool {
		if !pools[i].CreatedAt.Equal(pools[j].CreatedAt) {
			return pools[i].CreatedAt.Before(pools[j].CreatedAt)
		}
		return pools[i].ID < pools[j].ID
	})
	return pools, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, key model.PositionKey) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key, errs.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPositions(_ context.Context, owner string) ([]*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []*model.Position
	for k, p := range s.positions {
		if k.Owner == owner {
			positions = append(positions, p.Clone())
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].PoolID != positions[j].PoolID {
			return positions[i].PoolID < positions[j].PoolID
		}
		return positions[i].Nonce < positions[j].Nonce
	})
	return positions, nil
}

func (s *MemoryStore) GetMargin(_ context.Context, owner string) (*model.Margin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.margins[owner]
	if !ok {
		return nil, fmt.Errorf("margin %s: %w", owner, errs.ErrNotFound)
	}
	return m.Clone(), nil
}

// Apply holds the write lock for the whole changeset, so readers see all of
// it or none of it.
func (s *MemoryStore) Apply(_ context.Context, cs *model.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range cs.Pools {
		s.pools[p.ID] = p.Clone()
	}
	for _, p := range cs.Positions {
		c := p.Clone()
		c.Locked = false
		s.positions[p.PositionKey] = c
	}
	for _, m := range cs.Margins {
		c := m.Clone()
		c.Locked = false
		s.margins[m.Owner] = c
	}
	for _, e := range cs.Entries {
		s.ledger = append(s.ledger, *e)
	}
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByPool(_ context.Context, poolID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.PoolID == poolID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByOwner(_ context.Context, owner string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.Owner == owner {
			result = append(result, e)
		}
	}
	return result, nil
}
