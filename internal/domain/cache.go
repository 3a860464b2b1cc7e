package domain

import (
	"context"
	"io"
	"time"
)

// SignalBus publishes ledger events to interested subscribers (the WebSocket
// hub, external monitors) and appends them to a durable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is a single durable stream entry.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// LockManager serializes mutating ledger operations across service replicas.
// Acquire returns ErrLockHeld when another replica holds the lock, otherwise
// a release func that is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
