package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/subletmap/subletmap/internal/resilience"
	"github.com/subletmap/subletmap/internal/sheet"
	"github.com/subletmap/subletmap/pkg/geocode"
)

// appEnv holds the initialized clients shared by the serve/resolve/months
// commands.
type appEnv struct {
	Sheet *sheet.Client
	Cache *geocode.Cache

	store geocode.Store
}

// Close releases resources held by the environment.
func (ae *appEnv) Close() {
	if ae.store != nil {
		_ = ae.store.Close()
	}
}

// initApp sets up the sheet client, geocoding provider, persistent store,
// and cache. Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	if cfg.Geocode.AccessToken == "" {
		return nil, eris.New("geocode access token not configured (SUBLETMAP_GEOCODE_ACCESS_TOKEN)")
	}

	providerOpts := []geocode.MapboxOption{}
	if cfg.Geocode.BaseURL != "" {
		providerOpts = append(providerOpts, geocode.WithBaseURL(cfg.Geocode.BaseURL))
	}
	if cfg.Geocode.RateLimitRPS > 0 {
		providerOpts = append(providerOpts, geocode.WithRateLimit(cfg.Geocode.RateLimitRPS))
	}
	provider := geocode.Guard(
		geocode.NewMapboxProvider(cfg.Geocode.AccessToken, providerOpts...),
		resilience.Config{},
	)

	special := geocode.DefaultSpecialPlaces()
	if cfg.Geocode.SpecialPlacesFile != "" {
		sp, err := geocode.LoadSpecialPlaces(cfg.Geocode.SpecialPlacesFile)
		if err != nil {
			return nil, err
		}
		special = sp
	}

	resolverOpts := []geocode.ResolverOption{geocode.WithSpecialPlaces(special)}
	if cfg.Geocode.PlausibilityThresholdDeg > 0 {
		resolverOpts = append(resolverOpts, geocode.WithPlausibilityThreshold(cfg.Geocode.PlausibilityThresholdDeg))
	}
	resolver := geocode.NewResolver(provider, resolverOpts...)

	store, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	cacheOpts := []geocode.CacheOption{
		geocode.WithCacheConfig(cfg.Cache.ToGeocodeConfig()),
	}
	if store != nil {
		cacheOpts = append(cacheOpts, geocode.WithStore(store))
	}
	cache := geocode.NewCache(resolver, cacheOpts...)

	sheetClient := sheet.NewClient(sheet.Options{
		URL:        cfg.Sheet.URL,
		Timeout:    time.Duration(cfg.Sheet.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Sheet.MaxRetries,
	})

	return &appEnv{
		Sheet: sheetClient,
		Cache: cache,
		store: store,
	}, nil
}

// initStore opens the configured persistent cache store, or returns nil when
// the driver is "none".
func initStore(ctx context.Context) (geocode.Store, error) {
	switch cfg.Cache.StoreDriver {
	case "", "none":
		return nil, nil
	case "sqlite":
		st, err := geocode.NewSQLiteStore(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate sqlite store")
		}
		zap.L().Debug("using sqlite cache store", zap.String("path", cfg.Cache.SQLitePath))
		return st, nil
	case "postgres":
		st, err := geocode.OpenPostgresStore(ctx, cfg.Cache.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate postgres store")
		}
		zap.L().Debug("using postgres cache store")
		return st, nil
	default:
		return nil, eris.Errorf("unknown cache store driver %q", cfg.Cache.StoreDriver)
	}
}
