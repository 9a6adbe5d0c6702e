// Package session runs one client's view of Photo Drop: its location, the
// region and radius queries around it, its pins and its exchange flow. All
// of that state lives on the session's dispatch loop; clients drive it
// through the exported methods and read directives from Subscribe.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/photo-drop/internal/dispatch"
	"github.com/sells-group/photo-drop/internal/geoindex"
	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/pins"
	"github.com/sells-group/photo-drop/internal/proximity"
)

// ErrClosed is returned by calls on a session that has been closed.
var ErrClosed = eris.New("session: closed")

// Index is the geo index surface a session queries.
type Index interface {
	QueryRegion(region model.Region, poster dispatch.Poster) *geoindex.Query
	QueryCircle(center model.Location, radiusKm float64, poster dispatch.Poster) *geoindex.Query
}

// Deps are shared by every session.
type Deps struct {
	Index   Index
	Images  proximity.Images
	Dropper proximity.Dropper
}

// Options tunes a session.
type Options struct {
	FoundRadiusKm float64
	RegionSpanDeg float64
	EventBuffer   int
	LocationRate  float64
	LocationBurst int
	Proximity     proximity.Options
	// After replaces time.AfterFunc for controller timers.
	After proximity.AfterFunc
}

func (o Options) withDefaults() Options {
	if o.FoundRadiusKm <= 0 {
		o.FoundRadiusKm = 0.05
	}
	if o.RegionSpanDeg <= 0 {
		o.RegionSpanDeg = 0.0125
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.LocationBurst <= 0 {
		o.LocationBurst = 5
	}
	return o
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string               `json:"id"`
	Authorized bool                 `json:"authorized"`
	Position   *model.Location      `json:"position,omitempty"`
	State      proximity.State      `json:"state"`
	Picker     proximity.PickerMode `json:"picker"`
	Pins       int                  `json:"pins"`
	Revealed   string               `json:"revealed,omitempty"`
	Pending    int                  `json:"pending_drops"`
}

// Session is safe for concurrent use; its methods hop onto the loop.
type Session struct {
	id      string
	deps    Deps
	opts    Options
	loop    *dispatch.Loop
	limiter *rate.Limiter
	log     *zap.Logger

	lastActive atomic.Int64
	closeOnce  sync.Once

	// Owned by the loop.
	authorized bool
	position   *model.Location
	region     *geoindex.Query
	radius     *geoindex.Query
	pins       *pins.Registry
	ctrl       *proximity.Controller

	subMu   sync.Mutex
	subs    map[chan Event]struct{}
	seq     uint64
	dropped uint64
	closed  bool
}

// New creates a session and starts its loop.
func New(id string, deps Deps, opts Options) *Session {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.LocationRate > 0 {
		limit = rate.Limit(opts.LocationRate)
	}
	s := &Session{
		id:      id,
		deps:    deps,
		opts:    opts,
		loop:    dispatch.NewLoop("session-" + id),
		limiter: rate.NewLimiter(limit, opts.LocationBurst),
		log:     zap.L().With(zap.String("component", "session"), zap.String("session", id)),
		subs:    make(map[chan Event]struct{}),
	}
	d := directives{s: s}
	s.pins = pins.NewRegistry(d)
	s.ctrl = proximity.NewController(proximity.Deps{
		Loop:     s.loop,
		Images:   deps.Images,
		Dropper:  deps.Dropper,
		UI:       d,
		Screen:   d,
		Position: s.currentPosition,
		After:    opts.After,
	}, opts.Proximity)
	s.touch()

	go s.loop.Run(context.Background())
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// LastActive returns when a client last called the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// AllowLocation reports whether another location update fits the rate limit.
func (s *Session) AllowLocation() bool {
	return s.limiter.Allow()
}

// SetAuthorized records whether the client may share its location.
func (s *Session) SetAuthorized(ctx context.Context, granted bool) error {
	return s.call(ctx, func() error {
		s.authorized = granted
		return nil
	})
}

// UpdateLocation moves the user. It reports false when the update was
// ignored because location sharing is not authorized.
func (s *Session) UpdateLocation(ctx context.Context, loc model.Location) (bool, error) {
	if err := loc.Validate(); err != nil {
		return false, eris.Wrap(err, "session: update location")
	}
	var applied bool
	err := s.call(ctx, func() error {
		if !s.authorized {
			return nil
		}
		applied = true
		return s.applyLocation(loc)
	})
	return applied, err
}

// applyLocation re-centers the map, starts the region query the first time
// and keeps the radius query centered on the user.
func (s *Session) applyLocation(loc model.Location) error {
	s.position = &loc
	region := model.Region{
		Center: loc,
		Span:   model.Span{LatDelta: s.opts.RegionSpanDeg, LngDelta: s.opts.RegionSpanDeg},
	}
	s.emit(EventMapRegion, region)

	if s.region == nil {
		s.region = s.deps.Index.QueryRegion(region, s.loop)
		s.region.On(geoindex.Entered, func(e geoindex.Event) {
			s.pins.OnKeyEntered(e.Key, e.Location)
		})
		s.region.On(geoindex.Exited, func(e geoindex.Event) {
			s.pins.OnKeyExited(e.Key)
		})
	}

	if s.radius == nil {
		s.radius = s.deps.Index.QueryCircle(loc, s.opts.FoundRadiusKm, s.loop)
		s.radius.On(geoindex.Entered, func(e geoindex.Event) {
			s.ctrl.HandleFound(e.Key, e.Location)
		})
		return nil
	}
	return eris.Wrap(s.radius.SetCenter(loc), "session: move radius query")
}

// DropPhoto opens the picker for a new drop.
func (s *Session) DropPhoto(ctx context.Context) error {
	return s.call(ctx, s.ctrl.DropPhoto)
}

// Decide answers the found prompt.
func (s *Session) Decide(ctx context.Context, choice proximity.Choice) error {
	return s.call(ctx, func() error { return s.ctrl.Decide(choice) })
}

// PickPhoto completes the open picker with a prepared payload.
func (s *Session) PickPhoto(ctx context.Context, payload string) error {
	return s.call(ctx, func() error { return s.ctrl.PhotoPicked(payload) })
}

// CancelPicker closes the open picker.
func (s *Session) CancelPicker(ctx context.Context) error {
	return s.call(ctx, s.ctrl.PickerCancelled)
}

// Dismiss fades out the revealed photo. It reports false if none is shown.
func (s *Session) Dismiss(ctx context.Context) (bool, error) {
	var ok bool
	err := s.call(ctx, func() error {
		ok = s.ctrl.DismissPhoto()
		return nil
	})
	return ok, err
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() error {
		snap = Snapshot{
			ID:         s.id,
			Authorized: s.authorized,
			State:      s.ctrl.State(),
			Picker:     s.ctrl.Picker(),
			Pins:       s.pins.Len(),
			Pending:    s.ctrl.PendingDrops(),
		}
		if s.position != nil {
			p := *s.position
			snap.Position = &p
		}
		if p, ok := s.ctrl.Revealed(); ok {
			snap.Revealed = p.Key
		}
		return nil
	})
	return snap, err
}

// Pins returns the pins currently on the map, sorted by key.
func (s *Session) Pins(ctx context.Context) ([]model.Pin, error) {
	var out []model.Pin
	err := s.call(ctx, func() error {
		for _, key := range s.pins.Keys() {
			p, _ := s.pins.Get(key)
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// Subscribe returns a stream of directives and a func that ends it. A
// subscriber that falls behind by more than the event buffer misses events.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.opts.EventBuffer)
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	s.touch()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of open streams.
func (s *Session) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// Close tears the session down: queries are cancelled, listeners and timers
// stopped, pins cleared and every stream closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.loop.Call(ctx, func() {
			s.ctrl.Close()
			if s.region != nil {
				s.region.Cancel()
			}
			if s.radius != nil {
				s.radius.Cancel()
			}
			s.pins.Clear()
		})
		if err != nil {
			s.log.Warn("session teardown incomplete", zap.Error(err))
		}
		s.loop.Close()

		s.subMu.Lock()
		s.closed = true
		for ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.subMu.Unlock()
		s.log.Debug("session closed")
	})
}

// call runs fn on the loop and marks the session active.
func (s *Session) call(ctx context.Context, fn func() error) error {
	s.touch()
	var err error
	if cerr := s.loop.Call(ctx, func() { err = fn() }); cerr != nil {
		if eris.Is(cerr, dispatch.ErrClosed) {
			return ErrClosed
		}
		return cerr
	}
	return err
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) currentPosition() (model.Location, bool) {
	if s.position == nil {
		return model.Location{}, false
	}
	return *s.position, true
}

// emit sends an event to every subscriber without blocking.
func (s *Session) emit(typ EventType, data any) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	ev := Event{Seq: s.seq, Type: typ, Time: time.Now().UTC(), Data: data}
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped++
			s.log.Warn("subscriber behind, event dropped",
				zap.String("type", string(typ)),
				zap.Uint64("dropped", s.dropped),
			)
		}
	}
}
