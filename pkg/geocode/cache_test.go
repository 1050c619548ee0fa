package geocode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subletmap/subletmap/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore is an in-memory Store for write-through tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]StoredEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]StoredEntry)}
}

func (m *memStore) Get(ctx context.Context, key string) (*StoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memStore) Put(ctx context.Context, e StoredEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]StoredEntry)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestGetOrResolve_CachesSuccess(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	res, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, 1, p.callCount())

	res, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, 1, p.callCount(), "second lookup must be served from cache")
}

func TestGetOrResolve_CachesFailure(t *testing.T) {
	p := newFakeProvider()
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()
	l := model.Listing{City: "Atlantis"}

	res, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 1, p.callCount())

	// The not-found is cached too; an unresolvable listing must not burn a
	// provider call on every render.
	res, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 1, p.callCount())
}

// blockingProvider holds every Geocode call until released, to prove that
// concurrent lookups for one key collapse into a single provider call.
type blockingProvider struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Name() string { return "blocking" }

func (b *blockingProvider) Geocode(ctx context.Context, query string) (*Result, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return &Result{
		Coordinate: model.Coordinate{Lng: 1, Lat: 1},
		Query:      query,
		Matched:    true,
	}, nil
}

func TestGetOrResolve_CoalescesConcurrentLookups(t *testing.T) {
	p := &blockingProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	const n = 10
	var wg sync.WaitGroup
	results := make([]*Result, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.GetOrResolve(ctx, l)
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	// Wait for the single in-flight resolution, then let it finish.
	<-p.started
	close(p.release)
	wg.Wait()

	p.mu.Lock()
	calls := p.calls
	p.mu.Unlock()
	assert.Equal(t, 1, calls, "concurrent lookups for one key must share one provider call")
	for _, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Matched)
	}
}

func TestGetOrResolve_StaleStillServed(t *testing.T) {
	clock := newFakeClock()
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithClock(clock.now))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)

	// Past the fresh window but inside the eviction window: still served.
	clock.advance(10 * 24 * time.Hour)
	_, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount())
}

func TestGetOrResolve_EvictedEntryReResolves(t *testing.T) {
	clock := newFakeClock()
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithClock(clock.now))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)

	clock.advance(31 * 24 * time.Hour)
	_, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
}

func TestGetOrResolve_SpecialTierOutlivesOrdinary(t *testing.T) {
	clock := newFakeClock()
	p := newFakeProvider()
	p.on("El Born, Barcelona, Spain", 2.1825, 41.3850)
	p.on("Barcelona, Spain", 2.17, 41.38)

	c := NewCache(NewResolver(p), WithClock(clock.now))
	ctx := context.Background()
	l := model.Listing{Neighbourhood: "El Born", City: "Barcelona", Country: "Spain"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	before := p.callCount()

	// 40 days out: past ordinary eviction, inside the special window.
	clock.advance(40 * 24 * time.Hour)
	res, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, before, p.callCount(), "special-tier entry must survive ordinary eviction")
}

func TestGetOrResolve_SpecialNameOutsideItsCityAgesOrdinary(t *testing.T) {
	clock := newFakeClock()
	p := newFakeProvider()
	p.on("El Born Madrid, Spain", -3.70, 40.42)
	p.on("Madrid, Spain", -3.70, 40.41)

	c := NewCache(NewResolver(p), WithClock(clock.now))
	ctx := context.Background()
	// Special-place name, but not its city: the override doesn't apply and
	// neither does the special TTL tier.
	l := model.Listing{Neighbourhood: "El Born", City: "Madrid", Country: "Spain"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	before := p.callCount()

	// The same 40 days a true special entry survives: this one is evicted.
	clock.advance(40 * 24 * time.Hour)
	_, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.Greater(t, p.callCount(), before)
}

func TestInvalidate_ForcesReResolve(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount())

	c.Invalidate(ctx, BuildKey(l))
	_, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
}

func TestInvalidate_WithStoreForcesReResolve(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	store := newMemStore()
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithStore(store))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	require.Equal(t, 1, p.callCount())

	// Invalidation must reach the store too; otherwise the next lookup just
	// re-adopts the old persisted entry and the provider is never re-queried.
	c.Invalidate(ctx, BuildKey(l))
	_, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
}

func TestInvalidate_WithStoreSurvivesRestart(t *testing.T) {
	p1 := newFakeProvider()
	p1.on("Lisbon", -9.14, 38.72)
	store := newMemStore()
	c1 := NewCache(NewResolver(p1, WithSpecialPlaces(SpecialPlaces{})), WithStore(store))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c1.GetOrResolve(ctx, l)
	require.NoError(t, err)

	// A fresh process has an empty in-memory map; invalidating there must
	// still stop the shared store from serving the old entry.
	p2 := newFakeProvider()
	p2.on("Lisbon", -9.2, 38.7)
	c2 := NewCache(NewResolver(p2, WithSpecialPlaces(SpecialPlaces{})), WithStore(store))
	c2.Invalidate(ctx, BuildKey(l))

	res, err := c2.GetOrResolve(ctx, l)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, 1, p2.callCount())
	assert.InDelta(t, -9.2, res.Coordinate.Lng, 1e-9)
}

func TestInvalidateAll(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	p.on("Porto", -8.61, 41.15)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()

	_, err := c.GetOrResolve(ctx, model.Listing{City: "Lisbon"})
	require.NoError(t, err)
	_, err = c.GetOrResolve(ctx, model.Listing{City: "Porto"})
	require.NoError(t, err)
	require.Equal(t, 2, p.callCount())

	c.InvalidateAll(ctx)
	_, err = c.GetOrResolve(ctx, model.Listing{City: "Lisbon"})
	require.NoError(t, err)
	_, err = c.GetOrResolve(ctx, model.Listing{City: "Porto"})
	require.NoError(t, err)
	assert.Equal(t, 4, p.callCount())
}

func TestInvalidateAll_ClearsStore(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	store := newMemStore()
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithStore(store))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)

	c.InvalidateAll(ctx)
	se, err := store.Get(ctx, BuildKey(l))
	require.NoError(t, err)
	assert.Nil(t, se)

	_, err = c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
}

func TestClear_RemovesFromStore(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	store := newMemStore()
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithStore(store))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)

	key := BuildKey(l)
	se, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, se)

	c.Clear(ctx, key)
	se, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, se)
}

func TestGetOrResolve_AdoptsStoredEntry(t *testing.T) {
	p1 := newFakeProvider()
	p1.on("Lisbon", -9.14, 38.72)
	store := newMemStore()
	c1 := NewCache(NewResolver(p1, WithSpecialPlaces(SpecialPlaces{})), WithStore(store))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c1.GetOrResolve(ctx, l)
	require.NoError(t, err)

	// A fresh process over the same store serves the entry without touching
	// the provider.
	p2 := newFakeProvider()
	c2 := NewCache(NewResolver(p2, WithSpecialPlaces(SpecialPlaces{})), WithStore(store))
	res, err := c2.GetOrResolve(ctx, l)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.InDelta(t, -9.14, res.Coordinate.Lng, 1e-9)
	assert.Zero(t, p2.callCount())
}

func TestRetry_ConsumesBudgetThenStops(t *testing.T) {
	p := newFakeProvider()
	cfg := DefaultCacheConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 2 * time.Millisecond
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithCacheConfig(cfg))
	ctx := context.Background()
	l := model.Listing{City: "Atlantis"}

	// First miss caches the failure with one attempt consumed.
	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)
	require.Equal(t, 1, p.callCount())

	// Two more explicit retries fit in the ordinary budget of three.
	_, err = c.Retry(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())

	_, err = c.Retry(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 3, p.callCount())

	// Budget exhausted: the cached failure is durable.
	res, err := c.Retry(ctx, l)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 3, p.callCount())
}

func TestRetry_SuccessBehavesLikeGet(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()
	l := model.Listing{City: "Lisbon"}

	_, err := c.GetOrResolve(ctx, l)
	require.NoError(t, err)

	res, err := c.Retry(ctx, l)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 1, p.callCount(), "retrying a success must not spend a call")
}

func TestRetry_SuccessResetsNothingForOtherKeys(t *testing.T) {
	p := newFakeProvider()
	cfg := DefaultCacheConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithCacheConfig(cfg))
	ctx := context.Background()

	_, err := c.GetOrResolve(ctx, model.Listing{City: "Atlantis"})
	require.NoError(t, err)

	// Retrying a different, uncached key resolves it normally.
	p.on("Lisbon", -9.14, 38.72)
	res, err := c.Retry(ctx, model.Listing{City: "Lisbon"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestStatsSnapshot(t *testing.T) {
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	p.on("Porto", -8.61, 41.15)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()

	_, err := c.GetOrResolve(ctx, model.Listing{City: "Lisbon"})
	require.NoError(t, err)
	_, err = c.GetOrResolve(ctx, model.Listing{City: "Porto"})
	require.NoError(t, err)
	_, err = c.GetOrResolve(ctx, model.Listing{City: "Atlantis"})
	require.NoError(t, err)

	s := c.StatsSnapshot()
	assert.Equal(t, 3, s.TotalCached)
	assert.Equal(t, 2, s.SuccessCount)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, 0, s.StaleCount)
	assert.InDelta(t, 1.5, s.EstimatedCallsSaved, 1e-9)

	c.Invalidate(ctx, BuildKey(model.Listing{City: "Lisbon"}))
	s = c.StatsSnapshot()
	assert.Equal(t, 1, s.StaleCount)
}

func TestStatsSnapshot_SkipsEvicted(t *testing.T) {
	clock := newFakeClock()
	p := newFakeProvider()
	p.on("Lisbon", -9.14, 38.72)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})), WithClock(clock.now))
	ctx := context.Background()

	_, err := c.GetOrResolve(ctx, model.Listing{City: "Lisbon"})
	require.NoError(t, err)
	require.Equal(t, 1, c.StatsSnapshot().TotalCached)

	clock.advance(31 * 24 * time.Hour)
	assert.Equal(t, 0, c.StatsSnapshot().TotalCached)
}

func TestCityAnchor_SharesCache(t *testing.T) {
	p := newFakeProvider()
	p.on("Barcelona, Spain", 2.17, 41.38)
	c := NewCache(NewResolver(p, WithSpecialPlaces(SpecialPlaces{})))
	ctx := context.Background()

	res, err := c.CityAnchor(ctx, "Barcelona", "Spain")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, 1, p.callCount())

	_, err = c.CityAnchor(ctx, "Barcelona", "Spain")
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount())
}
