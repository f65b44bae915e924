// Package engine runs pool, margin and lending operations against a store.
//
// Every mutating operation follows the same shape: acquire guard keys for
// every account it touches, load and clone state, validate and compute the
// full result, hand the settlement to the optional Settler, then write the
// whole changeset with a single Store.Apply. Any failure before Apply
// leaves the store untouched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/clock"
	"github.com/0xalpharush/rmm-core/internal/curve"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/guard"
	"github.com/0xalpharush/rmm-core/internal/limits"
	"github.com/0xalpharush/rmm-core/internal/metrics"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/store"
)

// BpsScale is 100% in basis points.
const BpsScale = 10_000

// Config holds the engine's economic parameters.
type Config struct {
	// EngineID namespaces pool ids.
	EngineID string `toml:"engine_id"`

	// SwapFeeBps is charged on swap input and left in the reserves.
	SwapFeeBps uint32 `toml:"swap_fee_bps"`

	// BorrowFeeBps is charged on borrowed liquidity and paid to lenders.
	BorrowFeeBps uint32 `toml:"borrow_fee_bps"`

	// MinLiquidity base units are locked in every new pool for good.
	MinLiquidity uint64 `toml:"min_liquidity"`

	// RejectExpired refuses swaps, allocations and borrows at or after
	// maturity instead of trading on the collapsed curve.
	RejectExpired bool `toml:"reject_expired"`
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		EngineID:     "rmm",
		SwapFeeBps:   30,
		BorrowFeeBps: 10,
		MinLiquidity: 1000,
	}
}

// Validate rejects parameters the engine cannot run with.
func (c Config) Validate() error {
	if c.EngineID == "" {
		return errors.New("engine: engine id is required")
	}
	if c.SwapFeeBps >= BpsScale {
		return fmt.Errorf("engine: swap fee %d bps must be below %d", c.SwapFeeBps, BpsScale)
	}
	if c.BorrowFeeBps >= BpsScale {
		return fmt.Errorf("engine: borrow fee %d bps must be below %d", c.BorrowFeeBps, BpsScale)
	}
	return nil
}

// Settlement is what an operation is about to commit.
type Settlement struct {
	Op        string
	PoolID    string
	Owner     string
	Changeset *model.Changeset
}

// Settler sees every settlement after validation and before commit, while
// the operation's guard keys are still held. It is where token transfers to
// and from the outside world belong. Returning an error aborts the
// operation.
type Settler interface {
	Settle(ctx context.Context, s *Settlement) error
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, s *Settlement) error

func (f SettlerFunc) Settle(ctx context.Context, s *Settlement) error { return f(ctx, s) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithSettler installs a settlement hook.
func WithSettler(s Settler) Option { return func(e *Engine) { e.settler = s } }

// WithLimiter enforces borrow caps.
func WithLimiter(l *limits.DebtLimiter) Option { return func(e *Engine) { e.limiter = l } }

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithObserver registers a callback run after every commit. The WebSocket
// hub uses it to broadcast pool updates. Observers must not call back into
// the engine's mutating operations.
func WithObserver(fn func(op string, cs *model.Changeset)) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

// Engine executes operations. It is safe for concurrent use: calls touching
// disjoint accounts proceed in parallel, overlapping calls fail fast with
// errs.ErrLocked.
type Engine struct {
	store     store.Store
	cfg       Config
	clock     clock.Clock
	guard     *guard.Guard
	limiter   *limits.DebtLimiter
	settler   Settler
	logger    *slog.Logger
	observers []func(op string, cs *model.Changeset)
}

// New creates an engine over st.
func New(st store.Store, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:  st,
		cfg:    cfg,
		clock:  clock.System{},
		guard:  guard.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.guard.OnReject = func(key string) {
		scope, _, _ := strings.Cut(key, "/")
		metrics.GuardRejections.WithLabelValues(scope).Inc()
	}
	return e, nil
}

// Config returns the engine's parameters.
func (e *Engine) Config() Config { return e.cfg }

// Now is the engine clock's current time.
func (e *Engine) Now() uint32 { return e.clock.Now() }

// tx accumulates the state one operation reads and writes.
type tx struct {
	ctx context.Context
	e   *Engine
	op  string
	now uint32

	poolID string
	owner  string

	pools     map[string]*model.Pool
	positions map[model.PositionKey]*model.Position
	margins   map[string]*model.Margin
	order     struct {
		pools     []string
		positions []model.PositionKey
		margins   []string
	}
	entries []*model.LedgerEntry
}

// run acquires keys, builds the changeset with fn and commits it.
func (e *Engine) run(ctx context.Context, op, poolID, owner string, keys []string, fn func(*tx) error) (err error) {
	start := time.Now()
	defer func() {
		metrics.OperationsTotal.WithLabelValues(op, errs.Kind(err)).Inc()
		if err != nil {
			e.logger.Debug("operation rejected", "op", op, "pool", poolID, "owner", owner, "err", err)
			return
		}
		metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	release, err := e.guard.Acquire(keys...)
	if err != nil {
		return err
	}
	defer release()

	t := &tx{
		ctx:       ctx,
		e:         e,
		op:        op,
		now:       e.clock.Now(),
		poolID:    poolID,
		owner:     owner,
		pools:     make(map[string]*model.Pool),
		positions: make(map[model.PositionKey]*model.Position),
		margins:   make(map[string]*model.Margin),
	}
	if err := fn(t); err != nil {
		return err
	}
	cs := t.changeset()

	if e.settler != nil {
		if err := e.settler.Settle(ctx, &Settlement{Op: op, PoolID: poolID, Owner: owner, Changeset: cs}); err != nil {
			return fmt.Errorf("%s: settle: %w", op, err)
		}
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	e.logger.Info("operation committed", "op", op, "pool", poolID, "owner", owner)
	for _, p := range cs.Pools {
		observePool(p, t.now)
	}
	for _, fn := range e.observers {
		fn(op, cs)
	}
	return nil
}

func (t *tx) changeset() *model.Changeset {
	cs := &model.Changeset{Entries: t.entries}
	for _, id := range t.order.pools {
		cs.Pools = append(cs.Pools, t.pools[id])
	}
	for _, k := range t.order.positions {
		cs.Positions = append(cs.Positions, t.positions[k])
	}
	for _, o := range t.order.margins {
		cs.Margins = append(cs.Margins, t.margins[o])
	}
	return cs
}

// pool loads a pool for writing and brings its accumulators up to now.
func (t *tx) pool(id string) (*model.Pool, error) {
	if p, ok := t.pools[id]; ok {
		return p, nil
	}
	p, err := t.e.store.GetPool(t.ctx, id)
	if err != nil {
		return nil, err
	}
	p.Reserve.Accrue(t.now)
	t.putPool(p)
	return p, nil
}

func (t *tx) putPool(p *model.Pool) {
	if _, ok := t.pools[p.ID]; !ok {
		t.order.pools = append(t.order.pools, p.ID)
	}
	t.pools[p.ID] = p
}

// position loads a position for writing, creating it on first touch.
func (t *tx) position(key model.PositionKey) (*model.Position, error) {
	if p, ok := t.positions[key]; ok {
		return p, nil
	}
	p, err := t.e.store.GetPosition(t.ctx, key)
	if errors.Is(err, errs.ErrNotFound) {
		p, err = model.NewPosition(key), nil
	}
	if err != nil {
		return nil, err
	}
	p.Locked = true
	t.positions[key] = p
	t.order.positions = append(t.order.positions, key)
	return p, nil
}

// margin loads a margin account for writing, creating it on first touch.
func (t *tx) margin(owner string) (*model.Margin, error) {
	if m, ok := t.margins[owner]; ok {
		return m, nil
	}
	m, err := t.e.store.GetMargin(t.ctx, owner)
	if errors.Is(err, errs.ErrNotFound) {
		m, err = model.NewMargin(owner), nil
	}
	if err != nil {
		return nil, err
	}
	m.Locked = true
	t.margins[owner] = m
	t.order.margins = append(t.order.margins, owner)
	return m, nil
}

// record appends a ledger entry stamped with the operation's time.
func (t *tx) record(e model.LedgerEntry) {
	e.ID = uuid.New().String()
	e.Op = t.op
	e.Timestamp = time.Unix(int64(t.now), 0).UTC()
	for _, amt := range []**uint256.Int{&e.Risky, &e.Stable, &e.Liquidity, &e.Fee} {
		if *amt == nil {
			*amt = fixed.Zero()
		}
	}
	t.entries = append(t.entries, &e)
}

// checkLive rejects trading on a matured pool when configured to.
func (t *tx) checkLive(p *model.Pool) error {
	if t.e.cfg.RejectExpired && t.now >= p.Calibration.Maturity {
		return fmt.Errorf("%w: pool %s matured at %d", errs.ErrPoolExpired, p.ID, p.Calibration.Maturity)
	}
	return nil
}

func credit(m *model.Margin, risky, stable *uint256.Int) error {
	r, err := fixed.Add(m.MarginRisky, risky)
	if err != nil {
		return err
	}
	s, err := fixed.Add(m.MarginStable, stable)
	if err != nil {
		return err
	}
	m.MarginRisky, m.MarginStable = r, s
	return nil
}

func debit(m *model.Margin, risky, stable *uint256.Int) error {
	r, ok := fixed.Sub(m.MarginRisky, risky)
	if !ok {
		return fmt.Errorf("%w: %s needs %s risky, has %s", errs.ErrInsufficientBalance, m.Owner, risky, m.MarginRisky)
	}
	s, ok := fixed.Sub(m.MarginStable, stable)
	if !ok {
		return fmt.Errorf("%w: %s needs %s stable, has %s", errs.ErrInsufficientBalance, m.Owner, stable, m.MarginStable)
	}
	m.MarginRisky, m.MarginStable = r, s
	return nil
}

func observePool(p *model.Pool, now uint32) {
	r := p.Reserve
	metrics.PoolReserve.WithLabelValues(p.ID, "risky").Set(fixed.ToDecimal(r.ReserveRisky).InexactFloat64())
	metrics.PoolReserve.WithLabelValues(p.ID, "stable").Set(fixed.ToDecimal(r.ReserveStable).InexactFloat64())
	if inv, err := curve.Invariant(r, p.Calibration, now); err == nil {
		metrics.PoolInvariant.WithLabelValues(p.ID).Set(inv.InexactFloat64())
	}
}

func positionKeys(key model.PositionKey) []string {
	return []string{guard.PoolKey(key.PoolID), guard.MarginKey(key.Owner), guard.PositionKey(key)}
}

func requirePositive(name string, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return fmt.Errorf("%w: %s must be positive", errs.ErrInvalidAmount, name)
	}
	return nil
}
