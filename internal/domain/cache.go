package domain

import (
	"context"
	"io"
	"time"
)

// EventsCache is the low-latency cache in front of the mirrored event
// metadata. A failed refresh must leave previously cached entries intact.
type EventsCache interface {
	GetEvent(ctx context.Context, id string) (Event, error)
	SetEvent(ctx context.Context, event Event) error
	GetMarket(ctx context.Context, id string) (Market, error)
	SetMarket(ctx context.Context, market Market) error
	Invalidate(ctx context.Context, id string) error
}

// LockManager provides distributed locking, used to keep background jobs
// from overlapping across instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter paces outbound calls to the external venue.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries trade-execution and market-resolution events to
// interested consumers (the notification worker). Fills travel on a
// durable stream so they survive consumer downtime; resolutions use
// ephemeral pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
