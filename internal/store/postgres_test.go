package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetImage(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT key, payload, created_at, updated_at FROM photodrop.images WHERE key = \$1`).
		WithArgs("k1").
		WillReturnRows(pgxmock.NewRows([]string{"key", "payload", "created_at", "updated_at"}).
			AddRow("k1", "cGF5bG9hZA==", now, now))

	img, err := s.GetImage(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "cGF5bG9hZA==", img.Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetImage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT key, payload, created_at, updated_at FROM photodrop.images`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetImage(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutImage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO photodrop.images .* ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("k1", "payload", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutImage(context.Background(), "k1", "payload"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteImage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM photodrop.images WHERE key = \$1`).
		WithArgs("k1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.DeleteImage(context.Background(), "k1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetLocation_EncodesEWKB(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	loc := model.Location{Latitude: 37.0, Longitude: -122.0}
	wkb, err := encodePoint(loc)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO photodrop.locations .* ST_GeomFromEWKB\(\$3\)`).
		WithArgs("k1", "9q9hvumnuw", wkb, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.SetLocation(context.Background(), model.GeoEntry{Key: "k1", Geohash: "9q9hvumnuw", Location: loc})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLocation_DecodesEWKB(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	wkb, err := encodePoint(model.Location{Latitude: 37.0, Longitude: -122.0})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT key, geohash, ST_AsEWKB\(geom\), updated_at FROM photodrop.locations WHERE key = \$1`).
		WithArgs("k1").
		WillReturnRows(pgxmock.NewRows([]string{"key", "geohash", "geom", "updated_at"}).
			AddRow("k1", "9q9hvumnuw", wkb, now))

	e, err := s.GetLocation(context.Background(), "k1")
	require.NoError(t, err)
	assert.InDelta(t, 37.0, e.Location.Latitude, 1e-9)
	assert.InDelta(t, -122.0, e.Location.Longitude, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLocation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM photodrop.locations WHERE key = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLocation(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LocationsInRange(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	wkb, err := encodePoint(model.Location{Latitude: 37.0, Longitude: -122.0})
	require.NoError(t, err)

	mock.ExpectQuery(`WHERE geohash >= \$1 AND geohash <= \$2`).
		WithArgs("9q9h", "9q9h~").
		WillReturnRows(pgxmock.NewRows([]string{"key", "geohash", "geom", "updated_at"}).
			AddRow("a", "9q9hvumnuw", wkb, now).
			AddRow("b", "9q9hvv0000", wkb, now))

	got, err := s.LocationsInRange(context.Background(), "9q9h", "9q9h~")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LocationsInBBox(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	box := model.BBox{MinLat: 36.9, MinLng: -122.1, MaxLat: 37.1, MaxLng: -121.9}

	mock.ExpectQuery(`geom && ST_MakeEnvelope\(\$1, \$2, \$3, \$4, 4326\)`).
		WithArgs(box.MinLng, box.MinLat, box.MaxLng, box.MaxLat, 50).
		WillReturnRows(pgxmock.NewRows([]string{"key", "geohash", "geom", "updated_at"}))

	got, err := s.LocationsInBBox(context.Background(), box, 50)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT \(SELECT count\(\*\) FROM photodrop.images\)`).
		WillReturnRows(pgxmock.NewRows([]string{"images", "locations"}).AddRow(3, 2))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Driver: "postgres", Images: 3, Locations: 2}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LocationKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT key FROM photodrop.locations ORDER BY key`).
		WillReturnRows(pgxmock.NewRows([]string{"key"}).AddRow("a").AddRow("b"))

	keys, err := s.LocationKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncodeDecodePoint(t *testing.T) {
	loc := model.Location{Latitude: -33.8688, Longitude: 151.2093}
	data, err := encodePoint(loc)
	require.NoError(t, err)

	got, err := decodePoint(data)
	require.NoError(t, err)
	assert.Equal(t, loc, got)
}
