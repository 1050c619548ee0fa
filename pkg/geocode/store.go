package geocode

import (
	"context"
	"time"
)

// StoredEntry is the persisted form of a cache entry. TTL timestamps are
// stored alongside the result so the fresh/evict windows survive restarts.
type StoredEntry struct {
	Key        string
	Result     Result
	Tier       Tier
	CreatedAt  time.Time
	StaleAfter time.Time
	EvictAfter time.Time
	Attempts   int
}

// Store is an optional persistent key-value layer under the in-memory cache.
// Implementations must not return entries past their eviction window: Get
// returns (nil, nil) for absent or evicted keys.
type Store interface {
	Get(ctx context.Context, key string) (*StoredEntry, error)
	Put(ctx context.Context, e StoredEntry) error
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
	Close() error
}
