package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ladderfi/bondd/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Save upserts the single snapshot row for the ledger.
func (s *LedgerStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	const query = `
		INSERT INTO ledger_state (
			id, phase, paused, collateral_held, collateral_slashed,
			debt_initial_supply, debt_outstanding, debt_redemption_excess,
			redemption_ratio, minimum_deposit, treasury, expires_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			paused = EXCLUDED.paused,
			collateral_held = EXCLUDED.collateral_held,
			collateral_slashed = EXCLUDED.collateral_slashed,
			debt_outstanding = EXCLUDED.debt_outstanding,
			debt_redemption_excess = EXCLUDED.debt_redemption_excess,
			redemption_ratio = EXCLUDED.redemption_ratio,
			treasury = EXCLUDED.treasury,
			updated_at = NOW()`

	var expires *time.Time
	if !snap.ExpiresAt.IsZero() {
		expires = &snap.ExpiresAt
	}

	_, err := s.pool.Exec(ctx, query,
		snap.ID,
		string(snap.Phase),
		snap.Paused,
		amountString(snap.CollateralHeld),
		amountString(snap.CollateralSlashed),
		amountString(snap.DebtInitialSupply),
		amountString(snap.DebtOutstanding),
		amountString(snap.DebtRedemptionExcess),
		amountString(snap.RedemptionRatio),
		amountString(snap.MinimumDeposit),
		snap.Treasury.Hex(),
		expires,
	)
	if err != nil {
		return fmt.Errorf("postgres: save ledger snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Get returns the snapshot for the given ledger ID.
func (s *LedgerStore) Get(ctx context.Context, id string) (domain.LedgerSnapshot, error) {
	const query = `
		SELECT id, phase, paused, collateral_held, collateral_slashed,
		       debt_initial_supply, debt_outstanding, debt_redemption_excess,
		       redemption_ratio, minimum_deposit, treasury, expires_at, updated_at
		FROM ledger_state WHERE id = $1`

	var (
		snap     domain.LedgerSnapshot
		phase    string
		held     string
		slashed  string
		initial  string
		out      string
		excess   string
		ratio    string
		minDep   string
		treasury string
		expires  *time.Time
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&snap.ID, &phase, &snap.Paused, &held, &slashed,
		&initial, &out, &excess, &ratio, &minDep, &treasury, &expires, &snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: get ledger snapshot %s: %w", id, err)
	}

	snap.Phase = domain.Phase(phase)
	snap.Treasury = common.HexToAddress(treasury)
	if expires != nil {
		snap.ExpiresAt = *expires
	}
	for _, conv := range []struct {
		dst **big.Int
		src string
	}{
		{&snap.CollateralHeld, held},
		{&snap.CollateralSlashed, slashed},
		{&snap.DebtInitialSupply, initial},
		{&snap.DebtOutstanding, out},
		{&snap.DebtRedemptionExcess, excess},
		{&snap.RedemptionRatio, ratio},
		{&snap.MinimumDeposit, minDep},
	} {
		v, err := parseAmount(conv.src)
		if err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: ledger snapshot %s: %w", id, err)
		}
		*conv.dst = v
	}
	return snap, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
