package cache

import (
	"context"
	"time"
)

// Cache defines the read cache used in front of the remote CRM. Entries may be
// indexed under one or more entity identifiers so that a write to an entity
// can drop every cached read derived from it.
type Cache[T any] interface {
	// Get retrieves a value from the cache. Expired entries are removed and
	// reported as missing.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores a value for ttl, indexing the key under each entity ID.
	Set(ctx context.Context, key string, value T, ttl time.Duration, entityIDs ...string)

	// Delete removes a single key.
	Delete(ctx context.Context, key string)

	// Invalidate removes every key indexed under entityID, returning the
	// number of entries removed.
	Invalidate(ctx context.Context, entityID string) int

	// GetOrFetch returns the cached value for key, or calls fetch and caches
	// a non-empty result.
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error)

	// Len returns the number of entries currently held.
	Len() int

	// Stats returns hit, miss and eviction counters.
	Stats() Stats

	// Close stops background maintenance.
	Close() error
}

// FetchFunc loads a value on a cache miss. It returns the entity IDs the
// value was derived from so the entry can be invalidated by entity.
type FetchFunc[T any] func(ctx context.Context) (value T, entityIDs []string, err error)

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
	Size      int
}
