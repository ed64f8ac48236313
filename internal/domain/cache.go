package domain

import (
	"context"
	"time"
)

// PriceCache provides the latest traded prices published by the tick feed.
type PriceCache interface {
	// LTP returns the last traded price. A missing or unparsable entry is
	// reported as ErrNotFound.
	LTP(ctx context.Context, inst Instrument) (float64, error)
	SetLTP(ctx context.Context, inst Instrument, price float64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// TickSubscriber asks the external tick service to stream an instrument.
// Both calls are idempotent.
type TickSubscriber interface {
	EnsurePriceFeed(ctx context.Context, inst Instrument) error
	EnsureOIFeed(ctx context.Context, inst Instrument) error
}

// MarketDataReader reads indicator data produced upstream. Absent data is
// reported as ErrNotFound.
type MarketDataReader interface {
	Pivots(ctx context.Context, inst Instrument) (PivotLevels, error)
	Candles(ctx context.Context, inst Instrument) ([]Candle, error)
	OIMetrics(ctx context.Context, inst Instrument) (OIMetrics, error)
}
