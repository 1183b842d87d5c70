package cache

import (
	"context"
	"time"
)

// ListStore is the subset of a key-value store the run history needs.
// It is satisfied by RedisCache and by test doubles.
type ListStore interface {
	// PushCapped prepends value to the list at key, keeps only the newest
	// keep entries and refreshes the key's TTL. A ttl of 0 leaves the key
	// without expiry. The three steps are applied atomically.
	PushCapped(ctx context.Context, key string, value interface{}, keep int64, ttl time.Duration) error

	// LRange returns elements from a list by index range
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the length of a list
	LLen(ctx context.Context, key string) (int64, error)

	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes the connection
	Close() error
}
