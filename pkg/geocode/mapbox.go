package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/subletmap/subletmap/internal/model"
)

const defaultMapboxBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// MapboxProvider geocodes free-text queries against the Mapbox places API.
// Every request carries limit=1; only the first feature's center is used.
type MapboxProvider struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	limiter     *rate.Limiter
}

// MapboxOption configures the Mapbox provider.
type MapboxOption func(*MapboxProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) MapboxOption {
	return func(p *MapboxProvider) { p.httpClient = hc }
}

// WithBaseURL overrides the places endpoint (tests point this at a local
// httptest server).
func WithBaseURL(u string) MapboxOption {
	return func(p *MapboxProvider) { p.baseURL = u }
}

// WithRateLimit sets the requests-per-second limit on provider calls.
func WithRateLimit(rps float64) MapboxOption {
	return func(p *MapboxProvider) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewMapboxProvider creates a Mapbox provider with the given access token.
func NewMapboxProvider(accessToken string, opts ...MapboxOption) *MapboxProvider {
	p := &MapboxProvider{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     defaultMapboxBaseURL,
		accessToken: accessToken,
		limiter:     rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *MapboxProvider) Name() string { return "mapbox" }

// mapboxResponse is the JSON response from the places API.
type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	Center    []float64 `json:"center"` // [lng, lat]
	PlaceName string    `json:"place_name"`
}

// Geocode implements Provider. Responses with missing or out-of-range
// coordinates come back as Matched=false so the resolver advances to its
// next candidate query.
func (p *MapboxProvider) Geocode(ctx context.Context, query string) (*Result, error) {
	if query == "" {
		return &Result{Matched: false, Source: p.Name()}, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: mapbox rate limit")
	}

	params := url.Values{
		"access_token": {p.accessToken},
		"limit":        {"1"},
	}
	reqURL := fmt.Sprintf("%s/%s.json?%s", p.baseURL, url.PathEscape(query), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: mapbox build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: mapbox request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: mapbox returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: mapbox read body")
	}

	var mr mapboxResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, eris.Wrap(err, "geocode: mapbox parse response")
	}

	if len(mr.Features) == 0 {
		return &Result{Matched: false, Source: p.Name(), Query: query}, nil
	}

	f := mr.Features[0]
	if len(f.Center) != 2 {
		zap.L().Warn("mapbox: malformed center in response", zap.String("query", query))
		return &Result{Matched: false, Source: p.Name(), Query: query}, nil
	}

	coord := model.Coordinate{Lng: f.Center[0], Lat: f.Center[1]}
	if !coord.Valid() {
		zap.L().Warn("mapbox: coordinate out of range",
			zap.String("query", query),
			zap.Float64("lng", coord.Lng),
			zap.Float64("lat", coord.Lat),
		)
		return &Result{Matched: false, Source: p.Name(), Query: query}, nil
	}

	return &Result{
		Coordinate: coord,
		PlaceName:  f.PlaceName,
		Query:      query,
		Source:     p.Name(),
		Matched:    true,
	}, nil
}
