package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/photo-drop/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS images (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS locations (
	key        TEXT PRIMARY KEY,
	geohash    TEXT NOT NULL,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_locations_geohash ON locations(geohash);
CREATE INDEX IF NOT EXISTS idx_locations_lat_lng ON locations(latitude, longitude);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetImage(ctx context.Context, key string) (*model.StoredImage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, payload, created_at, updated_at FROM images WHERE key = ?`, key,
	)
	var img model.StoredImage
	err := row.Scan(&img.Key, &img.Payload, &img.CreatedAt, &img.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get image %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get image %s", key)
	}
	return &img, nil
}

func (s *SQLiteStore) PutImage(ctx context.Context, key, payload string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (key, payload, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, payload, now, now,
	)
	return eris.Wrapf(err, "sqlite: put image %s", key)
}

func (s *SQLiteStore) DeleteImage(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete image %s", key)
}

func (s *SQLiteStore) ImageKeys(ctx context.Context) ([]string, error) {
	return s.keys(ctx, `SELECT key FROM images ORDER BY key`, "image")
}

func (s *SQLiteStore) SetLocation(ctx context.Context, entry model.GeoEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (key, geohash, latitude, longitude, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET geohash = excluded.geohash, latitude = excluded.latitude,
		 longitude = excluded.longitude, updated_at = excluded.updated_at`,
		entry.Key, entry.Geohash, entry.Location.Latitude, entry.Location.Longitude, entry.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: set location %s", entry.Key)
}

func (s *SQLiteStore) GetLocation(ctx context.Context, key string) (*model.GeoEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, geohash, latitude, longitude, updated_at FROM locations WHERE key = ?`, key,
	)
	e, err := scanGeoEntry(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get location %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get location %s", key)
	}
	return e, nil
}

func (s *SQLiteStore) RemoveLocation(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: remove location %s", key)
}

func (s *SQLiteStore) LocationsInRange(ctx context.Context, start, end string) ([]model.GeoEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, geohash, latitude, longitude, updated_at FROM locations
		 WHERE geohash >= ? AND geohash <= ? ORDER BY geohash`,
		start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: locations in range")
	}
	return collectGeoEntries(rows)
}

func (s *SQLiteStore) LocationsInBBox(ctx context.Context, box model.BBox, limit int) ([]model.GeoEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, geohash, latitude, longitude, updated_at FROM locations
		 WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
		 ORDER BY updated_at DESC LIMIT ?`,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: locations in bbox")
	}
	return collectGeoEntries(rows)
}

func (s *SQLiteStore) LocationKeys(ctx context.Context) ([]string, error) {
	return s.keys(ctx, `SELECT key FROM locations ORDER BY key`, "location")
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Driver: "sqlite"}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM images`).Scan(&st.Images); err != nil {
		return st, eris.Wrap(err, "sqlite: count images")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM locations`).Scan(&st.Locations); err != nil {
		return st, eris.Wrap(err, "sqlite: count locations")
	}
	return st, nil
}

func (s *SQLiteStore) keys(ctx context.Context, query, entity string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s keys", entity)
	}
	defer rows.Close() //nolint:errcheck

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s key", entity)
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrapf(rows.Err(), "sqlite: iterate %s keys", entity)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGeoEntry(row scannable) (*model.GeoEntry, error) {
	var e model.GeoEntry
	if err := row.Scan(&e.Key, &e.Geohash, &e.Location.Latitude, &e.Location.Longitude, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectGeoEntries(rows *sql.Rows) ([]model.GeoEntry, error) {
	defer rows.Close() //nolint:errcheck

	var out []model.GeoEntry
	for rows.Next() {
		e, err := scanGeoEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate locations")
}
