package geocode

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/subletmap/subletmap/internal/model"
)

// Tier selects the TTL policy for a cache entry. Special-location entries are
// costlier to recompute, so they are retained longer.
type Tier string

const (
	TierOrdinary Tier = "ordinary"
	TierSpecial  Tier = "special"
)

// CacheConfig holds the TTL tiers and retry budgets. The day counts mirror
// what worked in production for the spreadsheet viewer; they are cost
// tradeoffs, not correctness requirements, so everything is tunable.
type CacheConfig struct {
	OrdinaryFresh time.Duration // servable without refresh
	OrdinaryEvict time.Duration // removed entirely
	SpecialFresh  time.Duration
	SpecialEvict  time.Duration

	RetryBudgetOrdinary int           // explicit retries before a failure is durable
	RetryBudgetSpecial  int           // fewer: special lookups are mostly hand-curated
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// AssumedDuplicateRate scales total entries into the estimated number of
	// provider calls the cache saved. A heuristic for the diagnostics
	// surface, not an exact count.
	AssumedDuplicateRate float64
}

// DefaultCacheConfig returns the production TTL tiers: 7/30 days for
// ordinary entries, 30/90 for special locations.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		OrdinaryFresh:        7 * 24 * time.Hour,
		OrdinaryEvict:        30 * 24 * time.Hour,
		SpecialFresh:         30 * 24 * time.Hour,
		SpecialEvict:         90 * 24 * time.Hour,
		RetryBudgetOrdinary:  3,
		RetryBudgetSpecial:   2,
		RetryInitialBackoff:  time.Second,
		RetryMaxBackoff:      30 * time.Second,
		AssumedDuplicateRate: 0.5,
	}
}

// entry is an immutable cache record. Resolutions never mutate an entry in
// place — each one builds a replacement, so a reader can never observe a
// coordinate from one write and a timestamp from another.
type entry struct {
	result     *Result
	tier       Tier
	createdAt  time.Time
	staleAfter time.Time
	evictAfter time.Time
	attempts   int  // failed resolutions consumed against the retry budget
	stale      bool // set by Invalidate; forces recompute on next access
}

// Stats is a read-only diagnostic snapshot of the cache.
type Stats struct {
	TotalCached         int     `json:"total_cached"`
	StaleCount          int     `json:"stale_count"`
	ErrorCount          int     `json:"error_count"`
	SuccessCount        int     `json:"success_count"`
	EstimatedCallsSaved float64 `json:"estimated_calls_saved"`
}

// Cache memoizes resolver results keyed by the normalized geocode key.
// Concurrent requests for the same key share one in-flight resolution — the
// provider sees at most one call per unresolved key per batch. Failures are
// cached too, so an unresolvable listing doesn't burn a call on every render.
type Cache struct {
	resolver *Resolver
	cfg      CacheConfig
	store    Store
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

// CacheOption configures the Cache.
type CacheOption func(*Cache)

// WithStore attaches a persistent write-through store. TTL semantics still
// apply on top of it.
func WithStore(s Store) CacheOption {
	return func(c *Cache) { c.store = s }
}

// WithCacheConfig overrides the TTL tiers and retry budgets.
func WithCacheConfig(cfg CacheConfig) CacheOption {
	return func(c *Cache) { c.cfg = cfg }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache over the resolver and binds itself as the
// resolver's city-anchor memoizer, so anchor lookups coalesce like any other
// key.
func NewCache(resolver *Resolver, opts ...CacheOption) *Cache {
	c := &Cache{
		resolver: resolver,
		cfg:      DefaultCacheConfig(),
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	resolver.BindAnchors(c)
	return c
}

// GetOrResolve returns the cached result for the listing's key, resolving
// and caching (success or explicit not-found) on a miss.
func (c *Cache) GetOrResolve(ctx context.Context, l model.Listing) (*Result, error) {
	key := BuildKey(l)
	tier := TierOrdinary
	// Same gate the resolver applies: a special-place name in some other city
	// is an ordinary listing, not a special entry.
	if p, ok := c.resolver.special.Lookup(l.Neighbourhood); ok && p.Match(l) {
		tier = TierSpecial
	}
	return c.getOrResolve(ctx, key, tier, 0, func(ctx context.Context) (*Result, error) {
		return c.resolver.Resolve(ctx, l)
	})
}

// CityAnchor implements Anchors: city-level lookups go through the same
// keyed memoization as listing lookups, under the city: namespace.
func (c *Cache) CityAnchor(ctx context.Context, city, country string) (*Result, error) {
	key := BuildCityKey(city, country)
	return c.getOrResolve(ctx, key, TierOrdinary, 0, func(ctx context.Context) (*Result, error) {
		return c.resolver.ResolveCity(ctx, city, country)
	})
}

// Retry re-resolves a cached failure with exponential backoff, up to the
// tier's retry budget. Past the budget the cached failure is durable for the
// remainder of its TTL window. Successes and uncached keys behave like
// GetOrResolve.
func (c *Cache) Retry(ctx context.Context, l model.Listing) (*Result, error) {
	key := BuildKey(l)

	c.mu.RLock()
	e, ok := c.liveEntry(key)
	c.mu.RUnlock()

	if !ok || e.result.Matched {
		return c.GetOrResolve(ctx, l)
	}

	budget := c.cfg.RetryBudgetOrdinary
	if e.tier == TierSpecial {
		budget = c.cfg.RetryBudgetSpecial
	}
	if e.attempts >= budget {
		zap.L().Debug("geocode cache: retry budget exhausted", zap.String("key", key), zap.Int("attempts", e.attempts))
		return e.result, nil
	}

	delay := c.retryBackoff(e.attempts)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return e.result, nil
	case <-timer.C:
	}

	return c.getOrResolve(ctx, key, e.tier, e.attempts, func(ctx context.Context) (*Result, error) {
		return c.resolver.Resolve(ctx, l)
	})
}

func (c *Cache) retryBackoff(attempts int) time.Duration {
	d := float64(c.cfg.RetryInitialBackoff) * math.Pow(2, float64(attempts))
	if d > float64(c.cfg.RetryMaxBackoff) {
		d = float64(c.cfg.RetryMaxBackoff)
	}
	return time.Duration(d)
}

// getOrResolve is the shared read-through path. priorAttempts > 0 forces a
// fresh resolution (explicit retry); otherwise a live cached entry wins.
func (c *Cache) getOrResolve(ctx context.Context, key string, tier Tier, priorAttempts int, resolve func(context.Context) (*Result, error)) (*Result, error) {
	if priorAttempts == 0 {
		c.mu.RLock()
		e, ok := c.liveEntry(key)
		c.mu.RUnlock()
		if ok {
			return e.result, nil
		}
	}

	// Coalesce: concurrent callers for the same key share one resolution.
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A racing caller may have populated the entry while this one was
		// queued on the flight group.
		if priorAttempts == 0 {
			c.mu.RLock()
			e, ok := c.liveEntry(key)
			c.mu.RUnlock()
			if ok {
				return e.result, nil
			}
		}

		if c.store != nil && priorAttempts == 0 {
			if stored := c.loadStored(ctx, key); stored != nil {
				return stored.result, nil
			}
		}

		res, resolveErr := resolve(ctx)
		if resolveErr != nil {
			// Resolver contract says this shouldn't happen for per-query
			// failures, but don't poison the cache if it does.
			return nil, resolveErr
		}
		if res == nil {
			res = &Result{Matched: false}
		}

		e := c.newEntry(res, tier, priorAttempts)
		c.put(ctx, key, e)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// newEntry stamps a result with its TTL tier. Failed resolutions always age
// on the ordinary tier and consume a retry attempt.
func (c *Cache) newEntry(res *Result, tier Tier, priorAttempts int) *entry {
	now := c.now()
	fresh, evict := c.cfg.OrdinaryFresh, c.cfg.OrdinaryEvict
	if tier == TierSpecial && res.Matched {
		fresh, evict = c.cfg.SpecialFresh, c.cfg.SpecialEvict
	}
	e := &entry{
		result:     res,
		tier:       tier,
		createdAt:  now,
		staleAfter: now.Add(fresh),
		evictAfter: now.Add(evict),
	}
	if !res.Matched {
		e.attempts = priorAttempts + 1
	}
	return e
}

// put installs an entry, replacing any prior one wholesale (last writer
// wins), and writes through to the persistent store when attached.
func (c *Cache) put(ctx context.Context, key string, e *entry) {
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Put(ctx, StoredEntry{
			Key:        key,
			Result:     *e.result,
			Tier:       e.tier,
			CreatedAt:  e.createdAt,
			StaleAfter: e.staleAfter,
			EvictAfter: e.evictAfter,
			Attempts:   e.attempts,
		}); err != nil {
			zap.L().Warn("geocode cache: persistent write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// liveEntry returns the entry for key if it is servable: present, not
// explicitly invalidated, and not past eviction. Caller holds at least a
// read lock.
func (c *Cache) liveEntry(key string) (*entry, bool) {
	e, ok := c.entries[key]
	if !ok || e.stale {
		return nil, false
	}
	if !c.now().Before(e.evictAfter) {
		return nil, false
	}
	return e, true
}

// loadStored adopts a persisted entry into memory when it is still within
// its eviction window.
func (c *Cache) loadStored(ctx context.Context, key string) *entry {
	se, err := c.store.Get(ctx, key)
	if err != nil {
		zap.L().Warn("geocode cache: persistent read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if se == nil || !c.now().Before(se.EvictAfter) {
		return nil
	}
	res := se.Result
	e := &entry{
		result:     &res,
		tier:       se.Tier,
		createdAt:  se.CreatedAt,
		staleAfter: se.StaleAfter,
		evictAfter: se.EvictAfter,
		attempts:   se.Attempts,
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e
}

// Invalidate marks one key stale, forcing recomputation on next access. The
// in-memory entry survives (stats still count it as stale), but the persisted
// copy is removed — otherwise the next lookup would just re-adopt the old
// stored value, and an invalidation issued from a fresh process would never
// reach the entry at all.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		marked := *e
		marked.stale = true
		c.entries[key] = &marked
	}
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(ctx, key); err != nil {
			zap.L().Warn("geocode cache: persistent invalidate failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// InvalidateAll marks every entry stale and drops all persisted copies.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	for k, e := range c.entries {
		marked := *e
		marked.stale = true
		c.entries[k] = &marked
	}
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.DeleteAll(ctx); err != nil {
			zap.L().Warn("geocode cache: persistent invalidate failed", zap.Error(err))
		}
	}
}

// Clear removes one key immediately, including from the persistent store.
func (c *Cache) Clear(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(ctx, key); err != nil {
			zap.L().Warn("geocode cache: persistent delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// ClearAll removes every entry immediately.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.DeleteAll(ctx); err != nil {
			zap.L().Warn("geocode cache: persistent clear failed", zap.Error(err))
		}
	}
}

// StatsSnapshot returns cache statistics without mutating state. Reads are
// eventually consistent with concurrent writes. EstimatedCallsSaved is total
// entries scaled by the assumed duplicate rate — an estimate for cost
// monitoring, not an exact count.
func (c *Cache) StatsSnapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var s Stats
	for _, e := range c.entries {
		if !now.Before(e.evictAfter) {
			continue
		}
		s.TotalCached++
		if e.stale || !now.Before(e.staleAfter) {
			s.StaleCount++
		}
		if e.result.Matched {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
	}
	s.EstimatedCallsSaved = float64(s.TotalCached) * c.cfg.AssumedDuplicateRate
	return s
}
