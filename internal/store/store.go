// Package store defines the persistence interface for the engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/0xalpharush/rmm-core/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Lookups of missing records return an error wrapping errs.ErrNotFound.
// Returned values are copies; mutating them does not touch the store.
type Store interface {
	// --- Pools ---

	// GetPool retrieves a pool by its ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pools, oldest first.
	ListPools(ctx context.Context) ([]*model.Pool, error)

	// --- Accounts ---

	// GetPosition retrieves one position.
	GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error)

	// ListPositions returns every position an owner holds.
	ListPositions(ctx context.Context, owner string) ([]*model.Position, error)

	// GetMargin retrieves an owner's margin account.
	GetMargin(ctx context.Context, owner string) (*model.Margin, error)

	// --- Writes ---

	// Apply upserts every pool, position and margin in cs and appends its
	// ledger entries, all or nothing.
	Apply(ctx context.Context, cs *model.Changeset) error

	// --- Immutable ledger ---

	// GetLedgerEntriesByPool returns a pool's history, oldest first.
	GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByOwner returns an owner's history, oldest first.
	GetLedgerEntriesByOwner(ctx context.Context, owner string) ([]model.LedgerEntry, error)
}
