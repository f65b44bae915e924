// Package clock supplies the engine's notion of now as uint32 unix seconds.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in unix seconds, truncated to 32 bits.
type Clock interface {
	Now() uint32
}

// System reads the wall clock.
type System struct{}

func (System) Now() uint32 { return uint32(time.Now().Unix()) }

// Manual is a clock that only moves when told to. Tests and simulations use
// it to step time between operations.
type Manual struct {
	mu  sync.Mutex
	now uint32
}

// NewManual returns a manual clock stopped at now.
func NewManual(now uint32) *Manual { return &Manual{now: now} }

func (m *Manual) Now() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Step advances the clock by dt seconds, wrapping at 2^32.
func (m *Manual) Step(dt uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += dt
	return m.now
}

// Set moves the clock to now.
func (m *Manual) Set(now uint32) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}
