package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0xalpharush/rmm-core/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Cache failures never fail a call: a broken Redis only costs round trips.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Apply(ctx context.Context, cs *model.Changeset) error {
	if err := s.primary.Apply(ctx, cs); err != nil {
		return err
	}
	keys := make([]string, 0, len(cs.Pools)+len(cs.Positions)+len(cs.Margins))
	for _, p := range cs.Pools {
		keys = append(keys, poolKey(p.ID))
	}
	for _, p := range cs.Positions {
		keys = append(keys, positionKey(p.PositionKey))
	}
	for _, m := range cs.Margins {
		keys = append(keys, marginKey(m.Owner))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	if s.lookup(ctx, poolKey(id), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	pool, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, poolKey(id), pool)
	return pool, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	var p model.Position
	if s.lookup(ctx, positionKey(key), &p) {
		return &p, nil
	}

	pos, err := s.primary.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, positionKey(key), pos)
	return pos, nil
}

func (s *CachedStore) GetMargin(ctx context.Context, owner string) (*model.Margin, error) {
	var m model.Margin
	if s.lookup(ctx, marginKey(owner), &m) {
		return &m, nil
	}

	margin, err := s.primary.GetMargin(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, marginKey(owner), margin)
	return margin, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]*model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) ListPositions(ctx context.Context, owner string) ([]*model.Position, error) {
	return s.primary.ListPositions(ctx, owner)
}

func (s *CachedStore) GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByPool(ctx, poolID)
}

func (s *CachedStore) GetLedgerEntriesByOwner(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByOwner(ctx, owner)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) remember(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func poolKey(id string) string               { return fmt.Sprintf("rmm:pool:%s", id) }
func positionKey(k model.PositionKey) string { return fmt.Sprintf("rmm:position:%s", k) }
func marginKey(owner string) string          { return fmt.Sprintf("rmm:margin:%s", owner) }
