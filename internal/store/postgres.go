package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/photo-drop/internal/db"
	"github.com/sells-group/photo-drop/internal/model"
)

// PostgresStore implements Store using pgxpool and PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	putImageSQL = `INSERT INTO photodrop.images (key, payload, created_at, updated_at) VALUES ($1, $2, $3, $3)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	setLocationSQL = `INSERT INTO photodrop.locations (key, geohash, geom, updated_at) VALUES ($1, $2, ST_GeomFromEWKB($3), $4)
		ON CONFLICT (key) DO UPDATE SET geohash = EXCLUDED.geohash, geom = EXCLUDED.geom, updated_at = EXCLUDED.updated_at`
	selectLocationSQL   = `SELECT key, geohash, ST_AsEWKB(geom), updated_at FROM photodrop.locations`
	locationsInRangeSQL = selectLocationSQL + ` WHERE geohash >= $1 AND geohash <= $2 ORDER BY geohash`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, key string) (*model.StoredImage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, payload, created_at, updated_at FROM photodrop.images WHERE key = $1`, key,
	)
	var img model.StoredImage
	err := row.Scan(&img.Key, &img.Payload, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get image %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get image %s", key)
	}
	return &img, nil
}

func (s *PostgresStore) PutImage(ctx context.Context, key, payload string) error {
	_, err := s.pool.Exec(ctx, putImageSQL, key, payload, time.Now().UTC())
	return eris.Wrapf(err, "postgres: put image %s", key)
}

func (s *PostgresStore) DeleteImage(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM photodrop.images WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: delete image %s", key)
}

func (s *PostgresStore) ImageKeys(ctx context.Context) ([]string, error) {
	return s.keys(ctx, `SELECT key FROM photodrop.images ORDER BY key`, "image")
}

func (s *PostgresStore) SetLocation(ctx context.Context, entry model.GeoEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	wkb, err := encodePoint(entry.Location)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode location %s", entry.Key)
	}
	_, err = s.pool.Exec(ctx, setLocationSQL, entry.Key, entry.Geohash, wkb, entry.UpdatedAt)
	return eris.Wrapf(err, "postgres: set location %s", entry.Key)
}

func (s *PostgresStore) GetLocation(ctx context.Context, key string) (*model.GeoEntry, error) {
	row := s.pool.QueryRow(ctx, selectLocationSQL+` WHERE key = $1`, key)
	e, err := scanPostgresEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get location %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get location %s", key)
	}
	return e, nil
}

func (s *PostgresStore) RemoveLocation(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM photodrop.locations WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: remove location %s", key)
}

func (s *PostgresStore) LocationsInRange(ctx context.Context, start, end string) ([]model.GeoEntry, error) {
	rows, err := s.pool.Query(ctx, locationsInRangeSQL, start, end)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: locations in range")
	}
	return collectPostgresEntries(rows)
}

func (s *PostgresStore) LocationsInBBox(ctx context.Context, box model.BBox, limit int) ([]model.GeoEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		selectLocationSQL+` WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY updated_at DESC LIMIT $5`,
		box.MinLng, box.MinLat, box.MaxLng, box.MaxLat, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: locations in bbox")
	}
	return collectPostgresEntries(rows)
}

func (s *PostgresStore) LocationKeys(ctx context.Context) ([]string, error) {
	return s.keys(ctx, `SELECT key FROM photodrop.locations ORDER BY key`, "location")
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Driver: "postgres"}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM photodrop.images), (SELECT count(*) FROM photodrop.locations)`,
	).Scan(&st.Images, &st.Locations)
	return st, eris.Wrap(err, "postgres: stats")
}

func (s *PostgresStore) keys(ctx context.Context, query, entity string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s keys", entity)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s key", entity)
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrapf(rows.Err(), "postgres: iterate %s keys", entity)
}

// encodePoint converts a location to EWKB with SRID 4326 (lng, lat order).
func encodePoint(loc model.Location) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{loc.Longitude, loc.Latitude}).SetSRID(4326)
	return ewkb.Marshal(p, ewkb.NDR)
}

// decodePoint is the inverse of encodePoint.
func decodePoint(data []byte) (model.Location, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return model.Location{}, err
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return model.Location{}, eris.Errorf("unexpected geometry %T", g)
	}
	return model.Location{Latitude: p.Y(), Longitude: p.X()}, nil
}

func scanPostgresEntry(row scannable) (*model.GeoEntry, error) {
	var (
		e   model.GeoEntry
		wkb []byte
	)
	if err := row.Scan(&e.Key, &e.Geohash, &wkb, &e.UpdatedAt); err != nil {
		return nil, err
	}
	loc, err := decodePoint(wkb)
	if err != nil {
		return nil, eris.Wrapf(err, "decode location %s", e.Key)
	}
	e.Location = loc
	return &e, nil
}

func collectPostgresEntries(rows pgx.Rows) ([]model.GeoEntry, error) {
	defer rows.Close()

	var out []model.GeoEntry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan location")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate locations")
}
