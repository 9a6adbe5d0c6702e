package store

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/photo-drop/internal/model"
)

// RedisStore implements Store on Redis. Each image and location is a hash;
// the geohash index is a lexicographic sorted set of "geohash|key" members
// and box searches use a GEO set.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis connects to Redis and checks the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "redis: ping")
	}
	return &RedisStore{rdb: rdb, prefix: opts.Prefix}, nil
}

func (s *RedisStore) imageKey(key string) string { return s.prefix + "image:" + key }
func (s *RedisStore) locKey(key string) string   { return s.prefix + "loc:" + key }
func (s *RedisStore) imagesSet() string          { return s.prefix + "images" }
func (s *RedisStore) locationsSet() string       { return s.prefix + "locations" }
func (s *RedisStore) geohashZSet() string        { return s.prefix + "geohash" }
func (s *RedisStore) geoSet() string             { return s.prefix + "geo" }

func member(geohash, key string) string { return geohash + "|" + key }

// Migrate only checks the connection; Redis needs no schema.
func (s *RedisStore) Migrate(ctx context.Context) error {
	return eris.Wrap(s.rdb.Ping(ctx).Err(), "redis: ping")
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) GetImage(ctx context.Context, key string) (*model.StoredImage, error) {
	fields, err := s.rdb.HGetAll(ctx, s.imageKey(key)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get image %s", key)
	}
	payload, ok := fields["payload"]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "redis: get image %s", key)
	}
	return &model.StoredImage{
		Key:       key,
		Payload:   payload,
		CreatedAt: parseTime(fields["created_at"]),
		UpdatedAt: parseTime(fields["updated_at"]),
	}, nil
}

func (s *RedisStore) PutImage(ctx context.Context, key, payload string) error {
	now := formatTime(time.Now().UTC())
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, s.imageKey(key), "created_at", now)
		pipe.HSet(ctx, s.imageKey(key), "payload", payload, "updated_at", now)
		pipe.SAdd(ctx, s.imagesSet(), key)
		return nil
	})
	return eris.Wrapf(err, "redis: put image %s", key)
}

func (s *RedisStore) DeleteImage(ctx context.Context, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.imageKey(key))
		pipe.SRem(ctx, s.imagesSet(), key)
		return nil
	})
	return eris.Wrapf(err, "redis: delete image %s", key)
}

func (s *RedisStore) ImageKeys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.SMembers(ctx, s.imagesSet()).Result()
	return keys, eris.Wrap(err, "redis: list image keys")
}

func (s *RedisStore) SetLocation(ctx context.Context, entry model.GeoEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	prev, err := s.rdb.HGet(ctx, s.locKey(entry.Key), "geohash").Result()
	if err != nil && err != redis.Nil {
		return eris.Wrapf(err, "redis: read previous geohash %s", entry.Key)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != entry.Geohash {
			pipe.ZRem(ctx, s.geohashZSet(), member(prev, entry.Key))
		}
		pipe.HSet(ctx, s.locKey(entry.Key),
			"geohash", entry.Geohash,
			"lat", strconv.FormatFloat(entry.Location.Latitude, 'f', -1, 64),
			"lng", strconv.FormatFloat(entry.Location.Longitude, 'f', -1, 64),
			"updated_at", formatTime(entry.UpdatedAt),
		)
		pipe.ZAdd(ctx, s.geohashZSet(), redis.Z{Score: 0, Member: member(entry.Geohash, entry.Key)})
		pipe.GeoAdd(ctx, s.geoSet(), &redis.GeoLocation{
			Name:      entry.Key,
			Longitude: entry.Location.Longitude,
			Latitude:  entry.Location.Latitude,
		})
		pipe.SAdd(ctx, s.locationsSet(), entry.Key)
		return nil
	})
	return eris.Wrapf(err, "redis: set location %s", entry.Key)
}

func (s *RedisStore) GetLocation(ctx context.Context, key string) (*model.GeoEntry, error) {
	fields, err := s.rdb.HGetAll(ctx, s.locKey(key)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get location %s", key)
	}
	if len(fields) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "redis: get location %s", key)
	}
	e, err := entryFromFields(key, fields)
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get location %s", key)
	}
	return e, nil
}

func (s *RedisStore) RemoveLocation(ctx context.Context, key string) error {
	prev, err := s.rdb.HGet(ctx, s.locKey(key), "geohash").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "redis: read previous geohash %s", key)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.geohashZSet(), member(prev, key))
		pipe.ZRem(ctx, s.geoSet(), key)
		pipe.Del(ctx, s.locKey(key))
		pipe.SRem(ctx, s.locationsSet(), key)
		return nil
	})
	return eris.Wrapf(err, "redis: remove location %s", key)
}

func (s *RedisStore) LocationsInRange(ctx context.Context, start, end string) ([]model.GeoEntry, error) {
	members, err := s.rdb.ZRangeByLex(ctx, s.geohashZSet(), &redis.ZRangeBy{
		Min: "[" + start,
		Max: "[" + end,
	}).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: locations in range")
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		if i := strings.IndexByte(m, '|'); i >= 0 {
			keys = append(keys, m[i+1:])
		}
	}
	return s.loadEntries(ctx, keys)
}

func (s *RedisStore) LocationsInBBox(ctx context.Context, box model.BBox, limit int) ([]model.GeoEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	centerLat := (box.MinLat + box.MaxLat) / 2
	centerLng := (box.MinLng + box.MaxLng) / 2
	heightKm := (box.MaxLat - box.MinLat) * 111.32
	widthKm := (box.MaxLng - box.MinLng) * 111.32 * math.Cos(centerLat*math.Pi/180)

	keys, err := s.rdb.GeoSearch(ctx, s.geoSet(), &redis.GeoSearchQuery{
		Longitude: centerLng,
		Latitude:  centerLat,
		BoxWidth:  math.Max(widthKm, 0.001),
		BoxHeight: math.Max(heightKm, 0.001),
		BoxUnit:   "km",
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: locations in bbox")
	}

	entries, err := s.loadEntries(ctx, keys)
	if err != nil {
		return nil, err
	}
	// GEOSEARCH boxes are metric; trim to the exact degree box.
	out := entries[:0]
	for _, e := range entries {
		if box.Contains(e.Location) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) LocationKeys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.SMembers(ctx, s.locationsSet()).Result()
	return keys, eris.Wrap(err, "redis: list location keys")
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Driver: "redis"}
	images, err := s.rdb.SCard(ctx, s.imagesSet()).Result()
	if err != nil {
		return st, eris.Wrap(err, "redis: count images")
	}
	locs, err := s.rdb.SCard(ctx, s.locationsSet()).Result()
	if err != nil {
		return st, eris.Wrap(err, "redis: count locations")
	}
	st.Images, st.Locations = int(images), int(locs)
	return st, nil
}

func (s *RedisStore) loadEntries(ctx context.Context, keys []string) ([]model.GeoEntry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.locKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "redis: load locations")
	}

	out := make([]model.GeoEntry, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		e, err := entryFromFields(keys[i], fields)
		if err != nil {
			return nil, eris.Wrapf(err, "redis: load location %s", keys[i])
		}
		out = append(out, *e)
	}
	return out, nil
}

func entryFromFields(key string, fields map[string]string) (*model.GeoEntry, error) {
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, eris.Wrap(err, "parse lat")
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, eris.Wrap(err, "parse lng")
	}
	return &model.GeoEntry{
		Key:       key,
		Geohash:   fields["geohash"],
		Location:  model.Location{Latitude: lat, Longitude: lng},
		UpdatedAt: parseTime(fields["updated_at"]),
	}, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}
