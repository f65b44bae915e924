// Package model defines the core domain types shared across the engine.
// All token amounts are *uint256.Int base units (10^-18 of a token), never
// floats.
package model

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/reserve"
)

// SigmaScale is the sigma value meaning 100% volatility.
const SigmaScale = 10_000

// MaxSigma caps implied volatility at 1000%.
const MaxSigma = 10_000_000

// Calibration fixes the option a pool replicates. It never changes after the
// pool is created.
type Calibration struct {
	Strike   *uint256.Int `json:"strike"`   // stable base units per whole risky token
	Sigma    uint32       `json:"sigma"`    // SigmaScale = 100%
	Maturity uint32       `json:"maturity"` // unix seconds
}

// Validate checks the calibration against the creation time now.
func (c Calibration) Validate(now uint32) error {
	if c.Strike == nil || c.Strike.IsZero() {
		return fmt.Errorf("%w: strike must be positive", errs.ErrInvalidCalibration)
	}
	if c.Sigma == 0 || c.Sigma > MaxSigma {
		return fmt.Errorf("%w: sigma %d outside (0, %d]", errs.ErrInvalidCalibration, c.Sigma, MaxSigma)
	}
	if c.Maturity <= now {
		return fmt.Errorf("%w: maturity %d is not after %d", errs.ErrInvalidCalibration, c.Maturity, now)
	}
	return nil
}

// Clone returns a deep copy.
func (c Calibration) Clone() Calibration {
	return Calibration{Strike: c.Strike.Clone(), Sigma: c.Sigma, Maturity: c.Maturity}
}

// PoolID derives the identifier of the pool an engine creates for cal. The
// same engine and calibration always yield the same id.
func PoolID(engineID string, cal Calibration) string {
	h := blake3.New(32, nil)
	h.Write([]byte(engineID))
	strike := cal.Strike.Bytes32()
	h.Write(strike[:])
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], cal.Sigma)
	binary.BigEndian.PutUint32(buf[4:], cal.Maturity)
	h.Write(buf[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Pool is one calibrated curve and its reserve.
type Pool struct {
	ID          string           `json:"id" db:"id"`
	Ticker      string           `json:"ticker,omitempty" db:"ticker"`
	Calibration Calibration      `json:"calibration"`
	Reserve     *reserve.Reserve `json:"reserve"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy.
func (p *Pool) Clone() *Pool {
	c := *p
	c.Calibration = p.Calibration.Clone()
	c.Reserve = p.Reserve.Clone()
	return &c
}

// PositionKey identifies a position. One owner may hold many positions in the
// same pool under different nonces.
type PositionKey struct {
	Owner  string `json:"owner"`
	Nonce  uint64 `json:"nonce"`
	PoolID string `json:"pool_id"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Owner, k.Nonce, k.PoolID)
}

// Position is an owner's liquidity, lent float and borrowed debt in one pool.
// Positions are created on first touch and never deleted.
type Position struct {
	PositionKey

	Liquidity        *uint256.Int `json:"liquidity"`
	Float            *uint256.Int `json:"float"`
	Debt             *uint256.Int `json:"debt"`
	CollateralRisky  *uint256.Int `json:"collateral_risky"`
	CollateralStable *uint256.Int `json:"collateral_stable"`

	// Fee growth checkpoints as of the last settlement of Float.
	FeeGrowthRiskyLast  *uint256.Int `json:"fee_growth_risky_last"`
	FeeGrowthStableLast *uint256.Int `json:"fee_growth_stable_last"`

	Locked bool `json:"locked"`
}

// NewPosition returns an empty position for key.
func NewPosition(key PositionKey) *Position {
	return &Position{
		PositionKey:         key,
		Liquidity:           fixed.Zero(),
		Float:               fixed.Zero(),
		Debt:                fixed.Zero(),
		CollateralRisky:     fixed.Zero(),
		CollateralStable:    fixed.Zero(),
		FeeGrowthRiskyLast:  fixed.Zero(),
		FeeGrowthStableLast: fixed.Zero(),
	}
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	return &Position{
		PositionKey:         p.PositionKey,
		Liquidity:           p.Liquidity.Clone(),
		Float:               p.Float.Clone(),
		Debt:                p.Debt.Clone(),
		CollateralRisky:     p.CollateralRisky.Clone(),
		CollateralStable:    p.CollateralStable.Clone(),
		FeeGrowthRiskyLast:  p.FeeGrowthRiskyLast.Clone(),
		FeeGrowthStableLast: p.FeeGrowthStableLast.Clone(),
		Locked:              p.Locked,
	}
}

// Margin is an owner's internal balance of both tokens. Every operation that
// takes or pays tokens settles against it.
type Margin struct {
	Owner        string       `json:"owner"`
	MarginRisky  *uint256.Int `json:"margin_risky"`
	MarginStable *uint256.Int `json:"margin_stable"`
	Locked       bool         `json:"locked"`
}

// NewMargin returns an empty margin account.
func NewMargin(owner string) *Margin {
	return &Margin{Owner: owner, MarginRisky: fixed.Zero(), MarginStable: fixed.Zero()}
}

// Clone returns a deep copy.
func (m *Margin) Clone() *Margin {
	return &Margin{
		Owner:        m.Owner,
		MarginRisky:  m.MarginRisky.Clone(),
		MarginStable: m.MarginStable.Clone(),
		Locked:       m.Locked,
	}
}

// Operation names recorded in the ledger.
const (
	OpCreate   = "create"
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
	OpAllocate = "allocate"
	OpRemove   = "remove"
	OpSwap     = "swap"
	OpLend     = "lend"
	OpClaim    = "claim"
	OpBorrow   = "borrow"
	OpRepay    = "repay"
	OpAccrue   = "accrue"
)

// LedgerEntry is an immutable record of one committed operation.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string       `json:"id" db:"id"`
	Op        string       `json:"op" db:"op"`
	PoolID    string       `json:"pool_id,omitempty" db:"pool_id"`
	Owner     string       `json:"owner" db:"owner"`
	Nonce     uint64       `json:"nonce" db:"nonce"`
	Direction string       `json:"direction,omitempty" db:"direction"` // swaps only
	Risky     *uint256.Int `json:"risky" db:"risky"`                   // risky moved by the op
	Stable    *uint256.Int `json:"stable" db:"stable"`                 // stable moved by the op
	Liquidity *uint256.Int `json:"liquidity" db:"liquidity"`
	Fee       *uint256.Int `json:"fee" db:"fee"` // swap fee or borrow premium
	Timestamp time.Time    `json:"timestamp" db:"timestamp"`
}

// Changeset is everything one operation writes. Stores apply it all or not
// at all.
type Changeset struct {
	Pools     []*Pool
	Positions []*Position
	Margins   []*Margin
	Entries   []*LedgerEntry
}
