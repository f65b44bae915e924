package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/reserve"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are stored as NUMERIC and round-trip through their decimal text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const poolColumns = `id, ticker, strike::TEXT, sigma, maturity,
	reserve_risky::TEXT, reserve_stable::TEXT, liquidity::TEXT, float_liquidity::TEXT, debt::TEXT,
	collateral_risky::TEXT, collateral_stable::TEXT, fee_growth_risky::TEXT, fee_growth_stable::TEXT,
	cumulative_risky::TEXT, cumulative_stable::TEXT, cumulative_liquidity::TEXT,
	last_timestamp, created_at`

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]*model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []*model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

const positionColumns = `owner, nonce::TEXT, pool_id,
	liquidity::TEXT, float_liquidity::TEXT, debt::TEXT,
	collateral_risky::TEXT, collateral_stable::TEXT,
	fee_growth_risky_last::TEXT, fee_growth_stable_last::TEXT`

func (s *PostgresStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE owner = $1 AND nonce = $2::NUMERIC AND pool_id = $3`,
		key.Owner, strconv.FormatUint(key.Nonce, 10), key.PoolID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", key, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", key, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, owner string) ([]*model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE owner = $1 ORDER BY pool_id, nonce`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetMargin(ctx context.Context, owner string) (*model.Margin, error) {
	var risky, stable string
	err := s.pool.QueryRow(ctx,
		`SELECT margin_risky::TEXT, margin_stable::TEXT FROM margins WHERE owner = $1`, owner).
		Scan(&risky, &stable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("margin %s: %w", owner, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get margin %s: %w", owner, err)
	}
	m := &model.Margin{Owner: owner}
	if m.MarginRisky, err = parseAmount(risky); err != nil {
		return nil, err
	}
	if m.MarginStable, err = parseAmount(stable); err != nil {
		return nil, err
	}
	return m, nil
}

// Apply writes the changeset in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, cs *model.Changeset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("apply: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, p := range cs.Pools {
		r := p.Reserve
		if _, err := tx.Exec(ctx,
			`INSERT INTO pools (id, ticker, strike, sigma, maturity,
			        reserve_risky, reserve_stable, liquidity, float_liquidity, debt,
			        collateral_risky, collateral_stable, fee_growth_risky, fee_growth_stable,
			        cumulative_risky, cumulative_stable, cumulative_liquidity,
			        last_timestamp, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5,
			         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
			         $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC,
			         $15::NUMERIC, $16::NUMERIC, $17::NUMERIC, $18, $19)
			 ON CONFLICT (id) DO UPDATE SET
			        reserve_risky = EXCLUDED.reserve_risky, reserve_stable = EXCLUDED.reserve_stable,
			        liquidity = EXCLUDED.liquidity, float_liquidity = EXCLUDED.float_liquidity,
			        debt = EXCLUDED.debt, collateral_risky = EXCLUDED.collateral_risky,
			        collateral_stable = EXCLUDED.collateral_stable,
			        fee_growth_risky = EXCLUDED.fee_growth_risky, fee_growth_stable = EXCLUDED.fee_growth_stable,
			        cumulative_risky = EXCLUDED.cumulative_risky, cumulative_stable = EXCLUDED.cumulative_stable,
			        cumulative_liquidity = EXCLUDED.cumulative_liquidity,
			        last_timestamp = EXCLUDED.last_timestamp`,
			p.ID, p.Ticker, p.Calibration.Strike.Dec(), int64(p.Calibration.Sigma), int64(p.Calibration.Maturity),
			r.ReserveRisky.Dec(), r.ReserveStable.Dec(), r.Liquidity.Dec(), r.Float.Dec(), r.Debt.Dec(),
			r.CollateralRisky.Dec(), r.CollateralStable.Dec(), r.FeeGrowthRisky.Dec(), r.FeeGrowthStable.Dec(),
			r.CumulativeRisky.Dec(), r.CumulativeStable.Dec(), r.CumulativeLiquidity.Dec(),
			int64(r.LastTimestamp), p.CreatedAt,
		); err != nil {
			return fmt.Errorf("apply: pool %s: %w", p.ID, err)
		}
	}

	for _, p := range cs.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (owner, nonce, pool_id, liquidity, float_liquidity, debt,
			        collateral_risky, collateral_stable, fee_growth_risky_last, fee_growth_stable_last)
			 VALUES ($1, $2::NUMERIC, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
			         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC)
			 ON CONFLICT (owner, nonce, pool_id) DO UPDATE SET
			        liquidity = EXCLUDED.liquidity, float_liquidity = EXCLUDED.float_liquidity,
			        debt = EXCLUDED.debt, collateral_risky = EXCLUDED.collateral_risky,
			        collateral_stable = EXCLUDED.collateral_stable,
			        fee_growth_risky_last = EXCLUDED.fee_growth_risky_last,
			        fee_growth_stable_last = EXCLUDED.fee_growth_stable_last`,
			p.Owner, strconv.FormatUint(p.Nonce, 10), p.PoolID,
			p.Liquidity.Dec(), p.Float.Dec(), p.Debt.Dec(),
			p.CollateralRisky.Dec(), p.CollateralStable.Dec(),
			p.FeeGrowthRiskyLast.Dec(), p.FeeGrowthStableLast.Dec(),
		); err != nil {
			return fmt.Errorf("apply: position %s: %w", p.PositionKey, err)
		}
	}

	for _, m := range cs.Margins {
		if _, err := tx.Exec(ctx,
			`INSERT INTO margins (owner, margin_risky, margin_stable)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
			 ON CONFLICT (owner) DO UPDATE SET
			        margin_risky = EXCLUDED.margin_risky, margin_stable = EXCLUDED.margin_stable`,
			m.Owner, m.MarginRisky.Dec(), m.MarginStable.Dec(),
		); err != nil {
			return fmt.Errorf("apply: margin %s: %w", m.Owner, err)
		}
	}

	for _, e := range cs.Entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, op, pool_id, owner, nonce, direction,
			        risky, stable, liquidity, fee, timestamp)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6,
			         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
			e.ID, e.Op, e.PoolID, e.Owner, strconv.FormatUint(e.Nonce, 10), e.Direction,
			amountText(e.Risky), amountText(e.Stable), amountText(e.Liquidity), amountText(e.Fee),
			e.Timestamp,
		); err != nil {
			return fmt.Errorf("apply: ledger entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

const ledgerColumns = `id::TEXT, op, pool_id, owner, nonce::TEXT, direction,
	risky::TEXT, stable::TEXT, liquidity::TEXT, fee::TEXT, timestamp`

func (s *PostgresStore) GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE pool_id = $1 ORDER BY seq`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByOwner(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE owner = $1 ORDER BY seq`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var nonce string
		var amounts [4]string

		if err := rows.Scan(&e.ID, &e.Op, &e.PoolID, &e.Owner, &nonce, &e.Direction,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &e.Timestamp); err != nil {
			return nil, err
		}
		var err error
		if e.Nonce, err = strconv.ParseUint(nonce, 10, 64); err != nil {
			return nil, fmt.Errorf("ledger entry %s: nonce %q: %w", e.ID, nonce, err)
		}
		dst := []**uint256.Int{&e.Risky, &e.Stable, &e.Liquidity, &e.Fee}
		for i, s := range amounts {
			if *dst[i], err = parseAmount(s); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanPool(row pgx.Row) (*model.Pool, error) {
	var (
		p               model.Pool
		strike          string
		sigma, maturity int64
		amounts         [12]string
		lastTimestamp   int64
		createdAt       time.Time
	)
	if err := row.Scan(&p.ID, &p.Ticker, &strike, &sigma, &maturity,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5],
		&amounts[6], &amounts[7], &amounts[8], &amounts[9], &amounts[10], &amounts[11],
		&lastTimestamp, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if p.Calibration.Strike, err = parseAmount(strike); err != nil {
		return nil, err
	}
	p.Calibration.Sigma = uint32(sigma)
	p.Calibration.Maturity = uint32(maturity)

	r := reserve.New(uint32(lastTimestamp))
	dst := []**uint256.Int{
		&r.ReserveRisky, &r.ReserveStable, &r.Liquidity, &r.Float, &r.Debt,
		&r.CollateralRisky, &r.CollateralStable, &r.FeeGrowthRisky, &r.FeeGrowthStable,
		&r.CumulativeRisky, &r.CumulativeStable, &r.CumulativeLiquidity,
	}
	for i, s := range amounts {
		if *dst[i], err = parseAmount(s); err != nil {
			return nil, err
		}
	}
	p.Reserve = r
	p.CreatedAt = createdAt.UTC()
	return &p, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var (
		key     model.PositionKey
		nonce   string
		amounts [7]string
	)
	if err := row.Scan(&key.Owner, &nonce, &key.PoolID,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5], &amounts[6]); err != nil {
		return nil, err
	}
	var err error
	if key.Nonce, err = strconv.ParseUint(nonce, 10, 64); err != nil {
		return nil, fmt.Errorf("position nonce %q: %w", nonce, err)
	}
	p := model.NewPosition(key)
	dst := []**uint256.Int{
		&p.Liquidity, &p.Float, &p.Debt, &p.CollateralRisky, &p.CollateralStable,
		&p.FeeGrowthRiskyLast, &p.FeeGrowthStableLast,
	}
	for i, s := range amounts {
		if *dst[i], err = parseAmount(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return z, nil
}

func amountText(u *uint256.Int) string {
	if u == nil {
		return "0"
	}
	return u.Dec()
}
