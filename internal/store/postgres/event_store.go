package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ladderfi/bondd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The journal is
// append-only; rows are only ever removed by DeleteArchived after archival.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append records one event. detail is the event's JSON encoding.
func (s *EventStore) Append(ctx context.Context, ledgerID, event string, detail []byte) error {
	const query = `INSERT INTO ledger_events (ledger_id, event, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, ledgerID, event, detail); err != nil {
		return fmt.Errorf("postgres: append event %s for %s: %w", event, ledgerID, err)
	}
	return nil
}

// List returns journal entries in emission order with pagination and
// optional time filtering.
func (s *EventStore) List(ctx context.Context, ledgerID string, opts domain.ListOpts) ([]domain.EventEntry, error) {
	query := `SELECT id, ledger_id, event, detail, created_at FROM ledger_events WHERE ledger_id = $1`
	args := []any{ledgerID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.query(ctx, query, args...)
}

// ListBefore returns up to limit entries created strictly before the cutoff,
// oldest first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EventEntry, error) {
	query := `SELECT id, ledger_id, event, detail, created_at FROM ledger_events WHERE created_at < $1 ORDER BY id`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// DeleteArchived removes entries created strictly before the cutoff with IDs
// at or below maxID and returns the number of rows removed. The ID bound
// keeps rows that were never part of an uploaded batch out of reach.
func (s *EventStore) DeleteArchived(ctx context.Context, before time.Time, maxID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM ledger_events WHERE created_at < $1 AND id <= $2", before, maxID,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete archived events before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]domain.EventEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var entries []domain.EventEntry
	for rows.Next() {
		var e domain.EventEntry
		if err := rows.Scan(&e.ID, &e.LedgerID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return entries, nil
}
