package geocode

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/subletmap/subletmap/internal/model"
)

// DefaultBatchConcurrency bounds parallel resolutions in a batch. Keys are
// independent so unrelated listings never serialize on each other; listings
// sharing a key coalesce on the cache's flight group instead of issuing
// duplicate provider calls.
const DefaultBatchConcurrency = 10

// BatchResult pairs a listing index with its resolution outcome. Unresolved
// listings carry Matched=false, never a hole — the map renderer decides what
// to do with pinless listings.
type BatchResult struct {
	Index   int           `json:"index"`
	Listing model.Listing `json:"listing"`
	Result  *Result       `json:"result"`
}

// BatchResolve resolves every listing through the cache with bounded
// fan-out. Individual failures never abort the batch; completion order is
// unspecified but the returned slice is index-aligned with the input.
func (c *Cache) BatchResolve(ctx context.Context, listings []model.Listing, concurrency int) ([]BatchResult, error) {
	if len(listings) == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	batchID := uuid.New().String()
	zap.L().Info("geocode: batch resolve start",
		zap.String("batch_id", batchID),
		zap.Int("listings", len(listings)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]BatchResult, len(listings))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for i, l := range listings {
		eg.Go(func() error {
			r, err := c.GetOrResolve(gCtx, l)
			if err != nil || r == nil {
				if err != nil {
					zap.L().Warn("geocode: batch listing failed",
						zap.String("batch_id", batchID),
						zap.Int("index", i),
						zap.String("city", l.City),
						zap.Error(err),
					)
				}
				r = &Result{Matched: false}
			}
			results[i] = BatchResult{Index: i, Listing: l, Result: r}
			return nil //nolint:nilerr // individual failures don't fail the batch
		})
	}

	_ = eg.Wait()

	matched := 0
	for _, r := range results {
		if r.Result.Matched {
			matched++
		}
	}
	zap.L().Info("geocode: batch resolve complete",
		zap.String("batch_id", batchID),
		zap.Int("matched", matched),
		zap.Int("unmatched", len(listings)-matched),
	)

	return results, nil
}
