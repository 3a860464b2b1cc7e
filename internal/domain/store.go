package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore persists ledger snapshots. A single row per ledger ID is
// upserted after every successful mutation so the in-memory core can be
// rebuilt on restart.
type LedgerStore interface {
	Save(ctx context.Context, snap LedgerSnapshot) error
	Get(ctx context.Context, id string) (LedgerSnapshot, error)
}

// SlashEntry is a persisted slash log row.
type SlashEntry struct {
	ID        int64
	LedgerID  string
	Reason    string
	Amount    string // decimal string, exact
	CreatedAt time.Time
}

// SlashStore persists the append-only slash log.
type SlashStore interface {
	Append(ctx context.Context, ledgerID, reason, amount string) error
	List(ctx context.Context, ledgerID string, opts ListOpts) ([]SlashEntry, error)
	Count(ctx context.Context, ledgerID string) (int64, error)
}

// EventEntry is a persisted event journal row.
type EventEntry struct {
	ID        int64
	LedgerID  string
	Event     string
	Detail    []byte // the event's JSON encoding, field order preserved
	CreatedAt time.Time
}

// EventStore persists the append-only event journal.
type EventStore interface {
	Append(ctx context.Context, ledgerID, event string, detail []byte) error
	List(ctx context.Context, ledgerID string, opts ListOpts) ([]EventEntry, error)
	// ListBefore returns journal entries created strictly before the cutoff,
	// oldest first. Used by the archiver.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]EventEntry, error)
	// DeleteArchived removes journal entries created strictly before the
	// cutoff with IDs at or below maxID. Callers invoke this only after the
	// matching batch has been uploaded, passing the batch's highest ID so
	// rows beyond the uploaded batch are never touched.
	DeleteArchived(ctx context.Context, before time.Time, maxID int64) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
