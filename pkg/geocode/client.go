// Package geocode resolves listing locations to map coordinates through a
// text-search geocoding provider, with multi-strategy neighbourhood
// resolution, plausibility checking, and a TTL-tiered request cache.
package geocode

import (
	"context"

	"github.com/subletmap/subletmap/internal/model"
)

// Provider is a single text-search geocoding backend. Implementations return
// Matched=false (not an error) when the query produces no usable place;
// errors are reserved for transport failures.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (*Result, error)
}

// Result holds one geocoding lookup outcome.
type Result struct {
	Coordinate model.Coordinate `json:"coordinate"`
	PlaceName  string           `json:"place_name,omitempty"`
	Query      string           `json:"query,omitempty"`
	Source     string           `json:"source,omitempty"`
	Matched    bool             `json:"matched"`
}
