package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ladderfi/bondd/internal/domain"
)

// SlashStore implements domain.SlashStore using PostgreSQL. The slash log is
// strictly append-only; there is no update or delete path.
type SlashStore struct {
	pool *pgxpool.Pool
}

// NewSlashStore creates a SlashStore backed by the given connection pool.
func NewSlashStore(pool *pgxpool.Pool) *SlashStore {
	return &SlashStore{pool: pool}
}

// Append records a slash. The reason is stored verbatim.
func (s *SlashStore) Append(ctx context.Context, ledgerID, reason, amount string) error {
	const query = `INSERT INTO slash_log (ledger_id, reason, amount) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, ledgerID, reason, amount); err != nil {
		return fmt.Errorf("postgres: append slash for %s: %w", ledgerID, err)
	}
	return nil
}

// List returns slash entries in insertion order with pagination.
func (s *SlashStore) List(ctx context.Context, ledgerID string, opts domain.ListOpts) ([]domain.SlashEntry, error) {
	query := `SELECT id, ledger_id, reason, amount, created_at FROM slash_log WHERE ledger_id = $1 ORDER BY id`
	args := []any{ledgerID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list slashes for %s: %w", ledgerID, err)
	}
	defer rows.Close()

	var entries []domain.SlashEntry
	for rows.Next() {
		var e domain.SlashEntry
		if err := rows.Scan(&e.ID, &e.LedgerID, &e.Reason, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan slash entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list slashes rows: %w", err)
	}
	return entries, nil
}

// Count returns the number of slash entries for the ledger.
func (s *SlashStore) Count(ctx context.Context, ledgerID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM slash_log WHERE ledger_id = $1", ledgerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count slashes for %s: %w", ledgerID, err)
	}
	return n, nil
}
