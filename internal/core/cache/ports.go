package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the caching port. Implementations may be backed by Redis,
// Memcached or an in-memory map.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss when the key is not
	// present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the specified TTL. A TTL of 0 means no
	// expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks if the cache service is reachable.
	Ping(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}
