// Package sheet fetches and parses the published spreadsheet export that
// feeds the map. It is the only boundary that sees raw string-keyed rows;
// everything downstream works with normalized model.Listing values.
package sheet

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/subletmap/subletmap/internal/model"
)

// Options configures the sheet client.
type Options struct {
	URL        string        // published CSV export URL
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// Client downloads the published CSV export.
type Client struct {
	httpClient *http.Client
	opts       Options
}

// NewClient creates a sheet client with sane defaults.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "subletmap/1.0"
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}
}

// Fetch downloads and parses the sheet, returning normalized listings in
// sheet order. Rows without a city-equivalent field are dropped here and
// never reach the geocoding layer.
func (c *Client) Fetch(ctx context.Context) ([]model.Listing, error) {
	body, err := c.download(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	return ParseCSV(body)
}

func (c *Client) download(ctx context.Context) (io.ReadCloser, error) {
	if c.opts.URL == "" {
		return nil, eris.New("sheet: no export URL configured")
	}

	var lastErr error
	for attempt := range c.opts.MaxRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "sheet: build request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("sheet: download failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("sheet: status %d", resp.StatusCode)
			zap.L().Warn("sheet: transient status, retrying",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, eris.Errorf("sheet: unexpected status %d", resp.StatusCode)
		}

		return resp.Body, nil
	}

	return nil, eris.Wrap(lastErr, "sheet: all retries exhausted")
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 15 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ParseCSV reads a header-first CSV export into normalized listings.
func ParseCSV(r io.Reader) ([]model.Listing, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // sheets pad short rows inconsistently

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sheet: read header")
	}

	var listings []model.Listing
	dropped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "sheet: read row")
		}

		l := model.FromRecord(recordMap(header, record), header)
		if !l.HasLocation() {
			dropped++
			continue
		}
		listings = append(listings, l)
	}

	if dropped > 0 {
		zap.L().Debug("sheet: dropped rows without a city", zap.Int("dropped", dropped))
	}
	return listings, nil
}

// recordMap zips a header row with a data row. Short rows leave trailing
// fields absent rather than empty-but-present.
func recordMap(header, record []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(record) {
			m[h] = record[i]
		}
	}
	return m
}
