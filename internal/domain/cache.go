package domain

import (
	"context"
	"time"
)

// BookMirror publishes the top of the local book to a shared cache so other
// processes can read it without a stream of their own.
type BookMirror interface {
	MirrorBook(ctx context.Context, productID uint32, bids, asks []PriceLevel) error
	ReadBook(ctx context.Context, productID uint32, depth int) (bids, asks []PriceLevel, err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a replay stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}
