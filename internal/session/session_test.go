package session

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/drops"
	"github.com/sells-group/photo-drop/internal/geoindex"
	"github.com/sells-group/photo-drop/internal/imagestore"
	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/photo"
	"github.com/sells-group/photo-drop/internal/proximity"
	"github.com/sells-group/photo-drop/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	home = model.Location{Latitude: 37.0, Longitude: -122.0}
	near = model.Location{Latitude: 37.0002, Longitude: -122.0}
	far  = model.Location{Latitude: 37.004, Longitude: -122.0}
	away = model.Location{Latitude: 38.0, Longitude: -121.0}
)

type env struct {
	st     *store.MemoryStore
	index  *geoindex.Index
	images *imagestore.Images
	deps   Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemory()
	e := &env{
		st:     st,
		index:  geoindex.New(st, geoindex.Options{}),
		images: imagestore.New(st, imagestore.Options{RetryAttempts: 1}),
	}
	e.deps = Deps{Index: e.index, Images: e.images, Dropper: drops.New(e.images, e.index)}
	return e
}

func (e *env) seed(t *testing.T, key string, loc model.Location) string {
	t.Helper()
	payload := encoded(t)
	require.NoError(t, e.images.Write(context.Background(), key, payload))
	require.NoError(t, e.index.SetLocation(context.Background(), key, loc))
	return payload
}

func encoded(t *testing.T) string {
	t.Helper()
	p, err := photo.Encode(image.NewRGBA(image.Rect(0, 0, 6, 3)))
	require.NoError(t, err)
	return p
}

func newSession(t *testing.T, e *env) *Session {
	t.Helper()
	s := New("s1", e.deps, Options{Proximity: proximity.Options{RevealTimeout: time.Minute, FadeDuration: time.Millisecond}})
	t.Cleanup(s.Close)
	return s
}

// waitFor reads events until one of typ arrives and returns it.
func waitFor(t *testing.T, ch <-chan Event, typ EventType, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "stream closed waiting for %s", typ)
			if ev.Type == typ && (match == nil || match(ev)) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func keyIs(key string) func(Event) bool {
	return func(ev Event) bool {
		switch d := ev.Data.(type) {
		case model.Pin:
			return d.Key == key
		case FoundPrompt:
			return d.Key == key
		case KeyRef:
			return d.Key == key
		case Failure:
			return d.Key == key
		}
		return false
	}
}

func TestSession_IgnoresLocationUntilAuthorized(t *testing.T) {
	e := newEnv(t)
	s := newSession(t, e)
	ch, stop := s.Subscribe()
	defer stop()

	applied, err := s.UpdateLocation(context.Background(), home)
	require.NoError(t, err)
	assert.False(t, applied)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Position)
	assert.Equal(t, 0, e.index.ActiveQueries())
	assert.Empty(t, ch)
}

func TestSession_InvalidLocation(t *testing.T) {
	e := newEnv(t)
	s := newSession(t, e)
	_, err := s.UpdateLocation(context.Background(), model.Location{Latitude: 100})
	assert.Error(t, err)
}

func TestSession_LocationStartsQueries(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "near", near)
	e.seed(t, "far", far)
	s := newSession(t, e)
	ch, stop := s.Subscribe()
	defer stop()
	ctx := context.Background()

	require.NoError(t, s.SetAuthorized(ctx, true))
	applied, err := s.UpdateLocation(ctx, home)
	require.NoError(t, err)
	assert.True(t, applied)

	ev := waitFor(t, ch, EventMapRegion, nil)
	region := ev.Data.(model.Region)
	assert.Equal(t, home, region.Center)
	assert.Equal(t, 0.0125, region.Span.LatDelta)
	assert.Equal(t, 0.0125, region.Span.LngDelta)

	waitFor(t, ch, EventDropFound, keyIs("near"))
	assert.Equal(t, 2, e.index.ActiveQueries())

	require.Eventually(t, func() bool {
		p, err := s.Pins(ctx)
		return err == nil && len(p) == 2
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, proximity.AwaitingDecision, snap.State.Phase)
	assert.Equal(t, "near", snap.State.TargetKey)
}

func TestSession_MoveRecentersRadiusOnly(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "near", near)
	e.seed(t, "far", far)
	s := newSession(t, e)
	ch, stop := s.Subscribe()
	defer stop()
	ctx := context.Background()

	require.NoError(t, s.SetAuthorized(ctx, true))
	_, err := s.UpdateLocation(ctx, home)
	require.NoError(t, err)
	waitFor(t, ch, EventDropFound, keyIs("near"))

	_, err = s.UpdateLocation(ctx, far)
	require.NoError(t, err)
	ev := waitFor(t, ch, EventMapRegion, nil)
	assert.Equal(t, far, ev.Data.(model.Region).Center)
	waitFor(t, ch, EventDropFound, keyIs("far"))

	_, err = s.UpdateLocation(ctx, away)
	require.NoError(t, err)
	waitFor(t, ch, EventMapRegion, nil)

	// The region query keeps its first scope, so pins stay.
	p, err := s.Pins(ctx)
	require.NoError(t, err)
	assert.Len(t, p, 2)
}

func TestSession_Exchange(t *testing.T) {
	e := newEnv(t)
	original := e.seed(t, "near", near)
	s := newSession(t, e)
	ch, stop := s.Subscribe()
	defer stop()
	ctx := context.Background()

	require.NoError(t, s.SetAuthorized(ctx, true))
	_, err := s.UpdateLocation(ctx, home)
	require.NoError(t, err)
	found := waitFor(t, ch, EventDropFound, keyIs("near"))
	prompt := found.Data.(FoundPrompt)
	assert.Equal(t, "You Found a Drop!", prompt.Title)
	assert.Equal(t, foundChoices, prompt.Choices)

	require.NoError(t, s.Decide(ctx, proximity.ChoiceExchange))
	ev := waitFor(t, ch, EventPickerOpened, nil)
	assert.Equal(t, proximity.PickerExchange, ev.Data.(Picker).Mode)

	replacement := encoded(t) + "=="
	require.NoError(t, s.PickPhoto(ctx, replacement))

	revealed := waitFor(t, ch, EventPhotoRevealed, nil).Data.(RevealedPhoto)
	assert.Equal(t, original, revealed.Payload)
	assert.Equal(t, 6, revealed.Width)
	assert.Equal(t, photoShadow, revealed.Shadow)
	waitFor(t, ch, EventExchangeCompleted, keyIs("near"))

	img, err := e.st.GetImage(ctx, "near")
	require.NoError(t, err)
	assert.Equal(t, replacement, img.Payload)

	ok, err := s.Dismiss(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	waitFor(t, ch, EventPhotoDismissed, nil)
	waitFor(t, ch, EventPhotoHidden, keyIs("near"))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, proximity.Idle, snap.State.Phase)
	assert.Empty(t, snap.Revealed)
}

func TestSession_DropAtPosition(t *testing.T) {
	e := newEnv(t)
	s := newSession(t, e)
	ch, stop := s.Subscribe()
	defer stop()
	ctx := context.Background()

	assert.ErrorIs(t, s.DropPhoto(ctx), proximity.ErrNoLocation)

	require.NoError(t, s.SetAuthorized(ctx, true))
	_, err := s.UpdateLocation(ctx, home)
	require.NoError(t, err)

	require.NoError(t, s.DropPhoto(ctx))
	waitFor(t, ch, EventPickerOpened, nil)
	payload := encoded(t)
	require.NoError(t, s.PickPhoto(ctx, payload))

	// The user's own drop lands inside both of their queries. Those events
	// may arrive before drop_created.
	var seen []Event
	find := func(typ EventType, key string) bool {
		for _, ev := range seen {
			if ev.Type == typ && (key == "" || keyIs(key)(ev)) {
				return true
			}
		}
		return false
	}
	var created model.Pin
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-ch:
				seen = append(seen, ev)
				if ev.Type == EventDropCreated {
					created = ev.Data.(model.Pin)
				}
			default:
				return created.Key != "" && find(EventPinAdded, created.Key) && find(EventDropFound, created.Key)
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, home, created.Location)

	img, err := e.st.GetImage(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, payload, img.Payload)
	entry, err := e.st.GetLocation(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, home, entry.Location)
}

func TestSession_CancelPicker(t *testing.T) {
	e := newEnv(t)
	s := newSession(t, e)
	ctx := context.Background()

	assert.ErrorIs(t, s.CancelPicker(ctx), proximity.ErrPickerClosed)
	require.NoError(t, s.SetAuthorized(ctx, true))
	_, err := s.UpdateLocation(ctx, home)
	require.NoError(t, err)
	require.NoError(t, s.DropPhoto(ctx))
	require.NoError(t, s.CancelPicker(ctx))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, proximity.PickerClosed, snap.Picker)
}

func TestSession_Close(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "near", near)
	s := New("s2", e.deps, Options{})
	ch, _ := s.Subscribe()
	ctx := context.Background()

	require.NoError(t, s.SetAuthorized(ctx, true))
	_, err := s.UpdateLocation(ctx, home)
	require.NoError(t, err)
	waitFor(t, ch, EventPinAdded, keyIs("near"))

	s.Close()
	waitFor(t, ch, EventPinRemoved, keyIs("near"))
	for range ch {
	}

	assert.Equal(t, 0, e.index.ActiveQueries())
	assert.ErrorIs(t, s.DropPhoto(ctx), ErrClosed)

	late, _ := s.Subscribe()
	_, open := <-late
	assert.False(t, open)
	s.Close()
}

func TestSession_SlowSubscriberDropsEvents(t *testing.T) {
	e := newEnv(t)
	s := New("s3", e.deps, Options{EventBuffer: 1})
	defer s.Close()
	ch, stop := s.Subscribe()
	defer stop()
	ctx := context.Background()

	require.NoError(t, s.SetAuthorized(ctx, true))
	for range 3 {
		_, err := s.UpdateLocation(ctx, home)
		require.NoError(t, err)
	}
	assert.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, uint64(1), ev.Seq)
}

func TestSession_AllowLocation(t *testing.T) {
	e := newEnv(t)
	s := New("s4", e.deps, Options{LocationRate: 0.001, LocationBurst: 2})
	defer s.Close()

	assert.True(t, s.AllowLocation())
	assert.True(t, s.AllowLocation())
	assert.False(t, s.AllowLocation())
}
