// Package guard implements the scoped lock set that keeps engine operations
// from re-entering state another operation is still settling.
//
// Acquire never waits: a key held by anyone, including the caller's own
// outer operation, fails the whole acquisition with errs.ErrLocked.
package guard

import (
	"fmt"
	"sync"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/model"
)

// Guard is a set of held keys. The zero value is ready to use.
type Guard struct {
	mu   sync.Mutex
	held map[string]struct{}

	// OnReject, when set, is called with the first contended key.
	OnReject func(key string)
}

// New returns an empty guard.
func New() *Guard {
	return &Guard{held: make(map[string]struct{})}
}

// Acquire takes every key or none. The returned release is idempotent.
func (g *Guard) Acquire(keys ...string) (func(), error) {
	g.mu.Lock()
	if g.held == nil {
		g.held = make(map[string]struct{})
	}
	for _, k := range keys {
		if _, busy := g.held[k]; busy {
			g.mu.Unlock()
			if g.OnReject != nil {
				g.OnReject(k)
			}
			return nil, fmt.Errorf("%w: %s", errs.ErrLocked, k)
		}
	}
	taken := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := g.held[k]; dup {
			continue
		}
		g.held[k] = struct{}{}
		taken = append(taken, k)
	}
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			for _, k := range taken {
				delete(g.held, k)
			}
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// MarginKey locks an owner's margin account.
func MarginKey(owner string) string { return "margin/" + owner }

// PositionKey locks one position.
func PositionKey(k model.PositionKey) string { return "position/" + k.String() }

// PoolKey locks a pool's reserve.
func PoolKey(poolID string) string { return "pool/" + poolID }
