package geocode

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PgxPool is the subset of pgxpool.Pool the Postgres store uses. pgxmock
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore persists cache entries in a shared Postgres database, for
// deployments where several processes share one geocode budget.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgresStore connects to the given database URL.
func OpenPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: postgres connect")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	key         TEXT PRIMARY KEY,
	lng         DOUBLE PRECISION NOT NULL,
	lat         DOUBLE PRECISION NOT NULL,
	place_name  TEXT,
	query       TEXT,
	source      TEXT,
	matched     BOOLEAN NOT NULL,
	tier        TEXT NOT NULL,
	attempts    INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	stale_after TIMESTAMPTZ NOT NULL,
	evict_after TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_geocode_cache_evict_after ON geocode_cache(evict_after)`

// Migrate creates the cache table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "geocode: postgres migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Get implements Store. The eviction window is enforced in the query so
// expired entries read as absent.
func (s *PostgresStore) Get(ctx context.Context, key string) (*StoredEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT lng, lat, place_name, query, source, matched, tier, attempts, created_at, stale_after, evict_after
		FROM geocode_cache
		WHERE key = $1 AND evict_after > now()`, key)

	var e StoredEntry
	var placeName, query, source *string
	e.Key = key
	err := row.Scan(&e.Result.Coordinate.Lng, &e.Result.Coordinate.Lat, &placeName, &query, &source,
		&e.Result.Matched, &e.Tier, &e.Attempts, &e.CreatedAt, &e.StaleAfter, &e.EvictAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "geocode: postgres get")
	}

	if placeName != nil {
		e.Result.PlaceName = *placeName
	}
	if query != nil {
		e.Result.Query = *query
	}
	if source != nil {
		e.Result.Source = *source
	}
	return &e, nil
}

// Put implements Store with upsert semantics.
func (s *PostgresStore) Put(ctx context.Context, e StoredEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_cache (key, lng, lat, place_name, query, source, matched, tier, attempts, created_at, stale_after, evict_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (key) DO UPDATE SET
			lng = EXCLUDED.lng,
			lat = EXCLUDED.lat,
			place_name = EXCLUDED.place_name,
			query = EXCLUDED.query,
			source = EXCLUDED.source,
			matched = EXCLUDED.matched,
			tier = EXCLUDED.tier,
			attempts = EXCLUDED.attempts,
			created_at = EXCLUDED.created_at,
			stale_after = EXCLUDED.stale_after,
			evict_after = EXCLUDED.evict_after`,
		e.Key, e.Result.Coordinate.Lng, e.Result.Coordinate.Lat, nilIfEmpty(e.Result.PlaceName),
		nilIfEmpty(e.Result.Query), nilIfEmpty(e.Result.Source), e.Result.Matched,
		string(e.Tier), e.Attempts, e.CreatedAt, e.StaleAfter, e.EvictAfter,
	)
	return eris.Wrap(err, "geocode: postgres put")
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM geocode_cache WHERE key = $1`, key)
	return eris.Wrap(err, "geocode: postgres delete")
}

// DeleteAll implements Store.
func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM geocode_cache`)
	return eris.Wrap(err, "geocode: postgres delete all")
}

// nilIfEmpty maps empty strings to NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
