// Package idempotency reserves keys with an expiry so that a duplicate
// reservation is rejected before any side effect runs.
package idempotency

import (
	"context"
	"time"
)

// Store claims keys atomically. Claim returns true only for the first caller
// while the key is unexpired; the expiry is set in the same operation.
type Store interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
