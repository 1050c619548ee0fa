package geocode

import (
	"context"

	"github.com/subletmap/subletmap/internal/resilience"
)

// GuardedProvider wraps a Provider with a circuit breaker. When the upstream
// service is failing hard the breaker fails calls fast instead of spending
// rate-limited request slots on a dead endpoint.
type GuardedProvider struct {
	inner   Provider
	breaker *resilience.Breaker
}

// Guard wraps the provider with a breaker tripped only by transport-level
// failures; not-found results and client errors pass through untouched.
func Guard(p Provider, cfg resilience.Config) *GuardedProvider {
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = resilience.IsTransient
	}
	return &GuardedProvider{
		inner:   p,
		breaker: resilience.NewBreaker(p.Name(), cfg),
	}
}

// Name implements Provider.
func (g *GuardedProvider) Name() string { return g.inner.Name() }

// Geocode implements Provider.
func (g *GuardedProvider) Geocode(ctx context.Context, query string) (*Result, error) {
	var res *Result
	err := g.breaker.Do(func() error {
		var innerErr error
		res, innerErr = g.inner.Geocode(ctx, query)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
