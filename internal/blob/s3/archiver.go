package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ladderfi/bondd/internal/domain"
)

// archiveBatchSize caps how many journal rows a single upload carries.
const archiveBatchSize = 10_000

// Archiver copies aged event journal rows out of the primary store into
// S3 as JSONL, then deletes them from Postgres. Each batch's upload always
// completes before its rows are deleted, and deletion is bounded by the
// batch's highest ID, so a row is never removed without being archived
// first.
type Archiver struct {
	writer domain.BlobWriter
	events domain.EventStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, events domain.EventStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		events: events,
		audit:  audit,
	}
}

// ArchiveEvents drains all journal entries created before the cutoff in
// batches. Every batch is uploaded to its own object, keyed by the batch's
// ID range, before the matching rows are removed from the primary store.
// Returns the total number of archived rows.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	var paths []string

	for {
		entries, err := a.events.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}

		firstID := entries[0].ID
		lastID := entries[len(entries)-1].ID
		path := archivePath("events", before, firstID, lastID)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive events upload: %w", err)
		}

		// The rows up to lastID are safely in S3; a delete failure here
		// leaves them in Postgres, and the next pass re-uploads the same ID
		// range to the same key with identical content.
		if _, err := a.events.DeleteArchived(ctx, before, lastID); err != nil {
			return total, fmt.Errorf("s3blob: archive events delete: %w", err)
		}

		total += int64(len(entries))
		paths = append(paths, path)

		if len(entries) < archiveBatchSize {
			break
		}
	}

	if total == 0 {
		return 0, nil
	}

	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"paths":  paths,
		"count":  total,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return total, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}

	return total, nil
}

// archivePath builds the S3 key for one archive batch, partitioned by the
// year-month of the cutoff and keyed by the batch's journal ID range. ID
// ranges never repeat, so every batch gets its own object.
//
//	archive/events/2026-08/000000000001-000000010000.jsonl
func archivePath(kind string, before time.Time, firstID, lastID int64) string {
	return fmt.Sprintf("archive/%s/%s/%012d-%012d.jsonl",
		kind, before.Format("2006-01"), firstID, lastID)
}

// marshalJSONL serializes a slice into newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
