package geocode

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists cache entries in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the cache database at the given path and
// configures WAL mode.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "geocode: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	key         TEXT PRIMARY KEY,
	lng         REAL NOT NULL,
	lat         REAL NOT NULL,
	place_name  TEXT,
	query       TEXT,
	source      TEXT,
	matched     INTEGER NOT NULL,
	tier        TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	stale_after DATETIME NOT NULL,
	evict_after DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_geocode_cache_evict_after ON geocode_cache(evict_after);
`

// Migrate creates the cache table if needed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "geocode: sqlite migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store. Entries past their eviction window are treated as
// absent and removed lazily.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*StoredEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT lng, lat, place_name, query, source, matched, tier, attempts, created_at, stale_after, evict_after
		FROM geocode_cache WHERE key = ?`, key)

	var e StoredEntry
	var placeName, query, source sql.NullString
	var matched int
	e.Key = key
	err := row.Scan(&e.Result.Coordinate.Lng, &e.Result.Coordinate.Lat, &placeName, &query, &source,
		&matched, &e.Tier, &e.Attempts, &e.CreatedAt, &e.StaleAfter, &e.EvictAfter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "geocode: sqlite get")
	}

	if !time.Now().Before(e.EvictAfter) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM geocode_cache WHERE key = ?`, key)
		return nil, nil
	}

	e.Result.Matched = matched != 0
	e.Result.PlaceName = placeName.String
	e.Result.Query = query.String
	e.Result.Source = source.String
	return &e, nil
}

// Put implements Store with upsert semantics.
func (s *SQLiteStore) Put(ctx context.Context, e StoredEntry) error {
	matched := 0
	if e.Result.Matched {
		matched = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (key, lng, lat, place_name, query, source, matched, tier, attempts, created_at, stale_after, evict_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			lng = excluded.lng,
			lat = excluded.lat,
			place_name = excluded.place_name,
			query = excluded.query,
			source = excluded.source,
			matched = excluded.matched,
			tier = excluded.tier,
			attempts = excluded.attempts,
			created_at = excluded.created_at,
			stale_after = excluded.stale_after,
			evict_after = excluded.evict_after`,
		e.Key, e.Result.Coordinate.Lng, e.Result.Coordinate.Lat, e.Result.PlaceName, e.Result.Query, e.Result.Source,
		matched, string(e.Tier), e.Attempts, e.CreatedAt, e.StaleAfter, e.EvictAfter,
	)
	return eris.Wrap(err, "geocode: sqlite put")
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM geocode_cache WHERE key = ?`, key)
	return eris.Wrap(err, "geocode: sqlite delete")
}

// DeleteAll implements Store.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM geocode_cache`)
	return eris.Wrap(err, "geocode: sqlite delete all")
}
