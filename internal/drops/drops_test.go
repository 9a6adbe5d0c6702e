package drops

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/geoindex"
	"github.com/sells-group/photo-drop/internal/imagestore"
	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/photo"
	"github.com/sells-group/photo-drop/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	st     *store.MemoryStore
	images *imagestore.Images
	index  *geoindex.Index
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	f := &fixture{
		st:     st,
		images: imagestore.New(st, imagestore.Options{RetryAttempts: 1}),
		index:  geoindex.New(st, geoindex.Options{}),
	}
	f.svc = New(f.images, f.index)
	return f
}

func encoded(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	p, err := photo.Encode(img)
	require.NoError(t, err)
	return p
}

func TestDrop_StoresImageAndLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := encoded(t)
	loc := model.Location{Latitude: 37.0, Longitude: -122.0}

	key, err := f.svc.Drop(ctx, payload, loc)
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	img, err := f.st.GetImage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, img.Payload)

	entry, err := f.st.GetLocation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, loc, entry.Location)
	assert.Len(t, entry.Geohash, 10)
}

func TestDrop_NewKeyEachTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loc := model.Location{Latitude: 37.0, Longitude: -122.0}

	k1, err := f.svc.Drop(ctx, "a", loc)
	require.NoError(t, err)
	k2, err := f.svc.Drop(ctx, "b", loc)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDrop_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Drop(ctx, "", model.Location{})
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = f.svc.Drop(ctx, "p", model.Location{Latitude: 91})
	assert.True(t, eris.Is(err, model.ErrInvalidLocation))

	stats, err := f.st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Images)
}

type failingIndex struct {
	Index
	err error
}

func (f failingIndex) SetLocation(context.Context, string, model.Location) error { return f.err }

func TestDrop_CompensatesFailedLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := New(f.images, failingIndex{Index: f.index, err: errors.New("index down")})

	_, err := svc.Drop(ctx, "p", model.Location{Latitude: 37.0, Longitude: -122.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index down")

	keys, err := f.images.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReconcile_RemovesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loc := model.Location{Latitude: 37.0, Longitude: -122.0}

	good, err := f.svc.Drop(ctx, "p", loc)
	require.NoError(t, err)
	require.NoError(t, f.images.Write(ctx, "image-only", "p"))
	require.NoError(t, f.index.SetLocation(ctx, "location-only", loc))

	report, err := f.svc.Reconcile(ctx, ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"image-only"}, report.OrphanImages)
	assert.Equal(t, []string{"location-only"}, report.OrphanLocations)
	assert.Equal(t, 0, report.Removed)

	stats, err := f.st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Images)

	report, err = f.svc.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Removed)

	imageKeys, err := f.images.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, imageKeys)
	locKeys, err := f.index.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, locKeys)
}

func TestReconcile_GraceSkipsFreshKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.images.GenerateKey()
	require.NoError(t, f.images.Write(ctx, fresh, "p"))
	require.NoError(t, f.images.Write(ctx, "legacy", "p"))

	report, err := f.svc.Reconcile(ctx, ReconcileOptions{DryRun: true, Grace: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, report.OrphanImages)
	assert.Equal(t, 1, report.Skipped)

	later := func() time.Time { return time.Now().Add(time.Hour) }
	report, err = f.svc.Reconcile(ctx, ReconcileOptions{DryRun: true, Grace: time.Minute, Now: later})
	require.NoError(t, err)
	assert.Len(t, report.OrphanImages, 2)
}

func TestKeyAge(t *testing.T) {
	id, err := uuid.NewV7()
	require.NoError(t, err)
	age := keyAge(id.String(), time.Now().Add(time.Second))
	assert.InDelta(t, time.Second.Seconds(), age.Seconds(), 0.5)

	assert.Greater(t, keyAge("not-a-uuid", time.Now()), 100*365*24*time.Hour)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`drops:
  - image: a.png
    latitude: 37.0
    longitude: -122.0
  - image: /abs/b.png
    latitude: 37.1
    longitude: -122.1
`), 0o600))

	f, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, f.Drops, 2)
	assert.Equal(t, filepath.Join(dir, "a.png"), f.Drops[0].Image)
	assert.Equal(t, "/abs/b.png", f.Drops[1].Image)
	assert.Equal(t, model.Location{Latitude: 37.1, Longitude: -122.1}, f.Drops[1].Location())
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSeedFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("drops:\n  - latitude: 1\n"), 0o600))
	_, err = LoadSeedFile(bad)
	assert.ErrorContains(t, err, "has no image")

	far := filepath.Join(dir, "far.yaml")
	require.NoError(t, os.WriteFile(far, []byte("drops:\n  - image: a.png\n    latitude: 120\n"), 0o600))
	_, err = LoadSeedFile(far)
	assert.True(t, eris.Is(err, model.ErrInvalidLocation))
}

func TestSeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 800, 400)
	writePNG(t, filepath.Join(dir, "b.png"), 10, 10)

	entries := []SeedEntry{
		{Image: filepath.Join(dir, "a.png"), Latitude: 37.0, Longitude: -122.0},
		{Image: filepath.Join(dir, "b.png"), Latitude: 37.1, Longitude: -122.1},
	}
	results, err := f.svc.Seed(ctx, entries, 400, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, entries[0].Image, results[0].Image)

	img, err := f.st.GetImage(ctx, results[0].Key)
	require.NoError(t, err)
	decoded, err := photo.Decode(img.Payload)
	require.NoError(t, err)
	assert.Equal(t, 400, decoded.Bounds().Dx())
	assert.Equal(t, 200, decoded.Bounds().Dy())

	entry, err := f.st.GetLocation(ctx, results[1].Key)
	require.NoError(t, err)
	assert.Equal(t, entries[1].Location(), entry.Location)
}

func TestSeed_MissingImage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Seed(context.Background(), []SeedEntry{{Image: "/nope.png", Latitude: 1, Longitude: 1}}, 400, 1)
	assert.ErrorContains(t, err, "/nope.png")
}
