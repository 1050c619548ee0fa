package geocode

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/subletmap/subletmap/internal/model"
)

// DefaultPlausibilityThreshold is the maximum Euclidean degree distance
// between a neighbourhood result and its city anchor before the result is
// rejected as likely-wrong. Deliberately coarse — city scale, not street
// scale.
const DefaultPlausibilityThreshold = 0.1

// Anchors resolves city-level anchor coordinates. The cache implements this
// so anchor lookups are memoized and coalesced like any other key; without
// one the resolver falls back to a process-local memo.
type Anchors interface {
	CityAnchor(ctx context.Context, city, country string) (*Result, error)
}

// Resolver turns a listing into coordinates using an ordered sequence of
// query strategies with plausibility validation against city-level results.
type Resolver struct {
	provider  Provider
	special   SpecialPlaces
	threshold float64
	anchors   Anchors

	mu         sync.Mutex
	anchorMemo map[string]*Result
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSpecialPlaces installs the hand-tuned override table.
func WithSpecialPlaces(sp SpecialPlaces) ResolverOption {
	return func(r *Resolver) { r.special = sp }
}

// WithPlausibilityThreshold overrides the city-distance rejection threshold,
// in raw degrees.
func WithPlausibilityThreshold(deg float64) ResolverOption {
	return func(r *Resolver) {
		if deg > 0 {
			r.threshold = deg
		}
	}
}

// NewResolver creates a Resolver over the given provider.
func NewResolver(provider Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		provider:   provider,
		special:    DefaultSpecialPlaces(),
		threshold:  DefaultPlausibilityThreshold,
		anchorMemo: make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BindAnchors routes city-anchor lookups through the given memoizer. Called
// by the cache at construction so anchors share its coalescing.
func (r *Resolver) BindAnchors(a Anchors) { r.anchors = a }

// Resolve maps a listing to coordinates. It never returns an error for
// individual query failures — those advance to the next candidate — and it
// never returns an out-of-range coordinate. All strategies exhausted means
// Matched=false.
func (r *Resolver) Resolve(ctx context.Context, l model.Listing) (*Result, error) {
	neighbourhood := strings.TrimSpace(l.Neighbourhood)
	city := strings.TrimSpace(l.City)
	country := strings.TrimSpace(l.Country)

	var override *SpecialPlace
	if neighbourhood != "" {
		if p, ok := r.special.Lookup(neighbourhood); ok && p.Match(l) {
			override = &p
		}
	}

	if neighbourhood != "" && city != "" && country != "" {
		candidates := r.candidateQueries(override, neighbourhood, city, country)
		for _, q := range candidates {
			res := r.tryQuery(ctx, q, city, country)
			if res != nil {
				return res, nil
			}
		}
	}

	// Last-resort override coordinate for known problem neighbourhoods.
	if override != nil && override.Fallback != nil && override.Fallback.Valid() {
		zap.L().Info("geocode: using override fallback coordinate",
			zap.String("neighbourhood", neighbourhood),
			zap.String("city", city),
		)
		return &Result{
			Coordinate: *override.Fallback,
			Query:      neighbourhood,
			Source:     "override",
			Matched:    true,
		}, nil
	}

	// City-level fallback. Without a city there is nothing to ask the
	// provider — return unmatched without spending a call.
	if city == "" {
		return &Result{Matched: false}, nil
	}
	if country != "" {
		anchor, err := r.cityAnchor(ctx, city, country)
		if err == nil && anchor != nil && anchor.Matched {
			return anchor, nil
		}
		return &Result{Matched: false}, nil
	}
	res, err := r.provider.Geocode(ctx, city)
	if err != nil {
		zap.L().Debug("geocode: city-only query failed", zap.String("city", city), zap.Error(err))
		return &Result{Matched: false}, nil
	}
	return res, nil
}

// candidateQueries builds the ordered query list, most specific first, with
// any override variants prepended.
func (r *Resolver) candidateQueries(override *SpecialPlace, neighbourhood, city, country string) []string {
	var queries []string
	if override != nil {
		queries = append(queries, override.Queries...)
	}
	queries = append(queries,
		neighbourhood+" "+city+", "+country,
		neighbourhood+", "+city+", "+country,
		city+", "+country,
		neighbourhood+" "+city,
	)
	return queries
}

// tryQuery runs one candidate query and validates plausibility against the
// city anchor. Returns nil when the candidate should be skipped: provider
// error, no match, or implausible distance from the city.
func (r *Resolver) tryQuery(ctx context.Context, query, city, country string) *Result {
	res, err := r.provider.Geocode(ctx, query)
	if err != nil {
		zap.L().Debug("geocode: candidate query failed",
			zap.String("query", query),
			zap.Error(err),
		)
		return nil
	}
	if res == nil || !res.Matched {
		return nil
	}

	anchor, err := r.cityAnchor(ctx, city, country)
	if err == nil && anchor != nil && anchor.Matched {
		dist := res.Coordinate.DistanceDegrees(anchor.Coordinate)
		if dist > r.threshold {
			zap.L().Debug("geocode: rejecting implausible candidate",
				zap.String("query", query),
				zap.Float64("distance_deg", dist),
				zap.Float64("threshold_deg", r.threshold),
			)
			return nil
		}
	}
	return res
}

// ResolveCity geocodes a city directly, bypassing anchor memoization. The
// cache calls this under the city: key so anchors get their own entries.
func (r *Resolver) ResolveCity(ctx context.Context, city, country string) (*Result, error) {
	city = strings.TrimSpace(city)
	country = strings.TrimSpace(country)
	if city == "" {
		return &Result{Matched: false}, nil
	}
	query := city
	if country != "" {
		query = city + ", " + country
	}
	return r.provider.Geocode(ctx, query)
}

// cityAnchor geocodes "{city}, {country}" through the bound Anchors, or a
// local memo when the resolver runs uncached.
func (r *Resolver) cityAnchor(ctx context.Context, city, country string) (*Result, error) {
	if r.anchors != nil {
		return r.anchors.CityAnchor(ctx, city, country)
	}

	key := BuildCityKey(city, country)
	r.mu.Lock()
	if res, ok := r.anchorMemo[key]; ok {
		r.mu.Unlock()
		return res, nil
	}
	r.mu.Unlock()

	query := city
	if country != "" {
		query = city + ", " + country
	}
	res, err := r.provider.Geocode(ctx, query)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.anchorMemo[key] = res
	r.mu.Unlock()
	return res, nil
}
