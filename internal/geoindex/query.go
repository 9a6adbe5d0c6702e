package geoindex

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/dispatch"
	"github.com/sells-group/photo-drop/internal/model"
)

// ErrNotCircle is returned by SetCenter on a region query.
var ErrNotCircle = eris.New("geoindex: query has no movable center")

// EventType distinguishes membership changes.
type EventType int

const (
	Entered EventType = iota + 1
	Exited
)

func (t EventType) String() string {
	switch t {
	case Entered:
		return "entered"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Event is one membership change of a query.
type Event struct {
	Type     EventType
	Key      string
	Location model.Location
}

// Handler receives query events on the query's poster.
type Handler func(Event)

// HandlerID identifies a registered handler for Off.
type HandlerID uint64

// Shape is the area a query covers.
type Shape interface {
	Contains(model.Location) bool
	BBox() model.BBox
}

type handlerEntry struct {
	typ EventType
	fn  Handler
}

// Query is a live subscription to the keys inside a shape. Handlers and ready
// callbacks run on the poster given at creation, in the order the changes
// were observed.
type Query struct {
	ix     *Index
	poster dispatch.Poster
	circle bool

	mu        sync.Mutex
	shape     Shape
	members   map[string]model.Location
	handlers  map[HandlerID]handlerEntry
	nextID    HandlerID
	gen       uint64
	touched   map[string]bool
	ready     bool
	readyFns  []func()
	cancelled bool
	outbox    []func()

	deliverMu sync.Mutex
}

func newQuery(ix *Index, sh Shape, circle bool, poster dispatch.Poster) *Query {
	if poster == nil {
		poster = dispatch.Inline{}
	}
	return &Query{
		ix:       ix,
		poster:   poster,
		circle:   circle,
		shape:    sh,
		members:  make(map[string]model.Location),
		handlers: make(map[HandlerID]handlerEntry),
	}
}

// On registers fn for events of typ. For Entered, the current members are
// replayed to fn first so a late handler still sees the full membership.
func (q *Query) On(typ EventType, fn Handler) HandlerID {
	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.handlers[id] = handlerEntry{typ: typ, fn: fn}
	if typ == Entered && !q.cancelled {
		for _, key := range sortedKeys(q.members) {
			q.enqueueLocked(Event{Type: Entered, Key: key, Location: q.members[key]}, []HandlerID{id})
		}
	}
	q.mu.Unlock()
	q.flush()
	return id
}

// Off removes a handler. Events not yet delivered to it are dropped.
func (q *Query) Off(id HandlerID) {
	q.mu.Lock()
	delete(q.handlers, id)
	q.mu.Unlock()
}

// OnReady runs fn once the first scan has been applied. If that already
// happened fn is scheduled right away.
func (q *Query) OnReady(fn func()) {
	q.mu.Lock()
	if q.ready {
		q.outbox = append(q.outbox, fn)
	} else {
		q.readyFns = append(q.readyFns, fn)
	}
	q.mu.Unlock()
	q.flush()
}

// SetCenter moves a circle query and rescans it.
func (q *Query) SetCenter(center model.Location) error {
	if !q.circle {
		return ErrNotCircle
	}
	if err := center.Validate(); err != nil {
		return eris.Wrap(err, "geoindex: set center")
	}
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return nil
	}
	c := q.shape.(model.Circle)
	c.Center = center
	q.shape = c
	q.mu.Unlock()
	q.rescan()
	return nil
}

// Shape returns the area the query currently covers.
func (q *Query) Shape() Shape {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shape
}

// Members returns a copy of the keys currently inside the query.
func (q *Query) Members() map[string]model.Location {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]model.Location, len(q.members))
	for k, v := range q.members {
		out[k] = v
	}
	return out
}

// Cancel stops the query. No handler runs after Cancel returns, apart from
// one that is already executing.
func (q *Query) Cancel() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.cancelled = true
	q.gen++
	q.handlers = make(map[HandlerID]handlerEntry)
	q.readyFns = nil
	q.outbox = nil
	q.mu.Unlock()
	q.ix.removeQuery(q)
}

func (q *Query) rescan() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.gen++
	gen := q.gen
	sh := q.shape
	q.touched = make(map[string]bool)
	q.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), q.ix.opts.ScanTimeout)
		defer cancel()
		found, err := q.ix.scan(ctx, sh)
		q.apply(gen, found, err)
	}()
}

// apply diffs a scan result against the current members. Keys updated by a
// direct write while the scan ran are skipped; the write is newer.
func (q *Query) apply(gen uint64, found map[string]model.Location, err error) {
	q.mu.Lock()
	if q.cancelled || gen != q.gen {
		q.mu.Unlock()
		return
	}
	if err != nil {
		q.mu.Unlock()
		q.ix.log.Warn("query scan failed", zap.Error(err))
		return
	}

	for _, key := range sortedKeys(found) {
		if q.touched[key] {
			continue
		}
		if _, ok := q.members[key]; !ok {
			q.members[key] = found[key]
			q.enqueueLocked(Event{Type: Entered, Key: key, Location: found[key]}, nil)
		}
	}
	for _, key := range sortedKeys(q.members) {
		if q.touched[key] {
			continue
		}
		if _, ok := found[key]; !ok {
			loc := q.members[key]
			delete(q.members, key)
			q.enqueueLocked(Event{Type: Exited, Key: key, Location: loc}, nil)
		}
	}
	q.touched = nil

	if !q.ready {
		q.ready = true
		q.outbox = append(q.outbox, q.readyFns...)
		q.readyFns = nil
	}
	q.mu.Unlock()
	q.flush()
}

// observe applies a direct write or removal of key.
func (q *Query) observe(key string, loc model.Location, present bool) {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	if q.touched != nil {
		q.touched[key] = true
	}
	prev, member := q.members[key]
	inside := present && q.shape.Contains(loc)
	switch {
	case inside && !member:
		q.members[key] = loc
		q.enqueueLocked(Event{Type: Entered, Key: key, Location: loc}, nil)
	case inside && member:
		q.members[key] = loc
	case !inside && member:
		delete(q.members, key)
		if !present {
			loc = prev
		}
		q.enqueueLocked(Event{Type: Exited, Key: key, Location: loc}, nil)
	}
	q.mu.Unlock()
	q.flush()
}

// enqueueLocked schedules ev for the given handlers, or for every handler of
// its type registered right now when targets is nil.
func (q *Query) enqueueLocked(ev Event, targets []HandlerID) {
	if targets == nil {
		for id, h := range q.handlers {
			if h.typ == ev.Type {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			return
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	}
	q.outbox = append(q.outbox, func() {
		for _, id := range targets {
			q.mu.Lock()
			h, ok := q.handlers[id]
			cancelled := q.cancelled
			q.mu.Unlock()
			if cancelled {
				return
			}
			if ok {
				h.fn(ev)
			}
		}
	})
}

// flush hands queued deliveries to the poster in order. A flush that runs
// re-entrantly from an inline handler leaves the work to the outer flush.
func (q *Query) flush() {
	for {
		if !q.deliverMu.TryLock() {
			return
		}
		for {
			q.mu.Lock()
			batch := q.outbox
			q.outbox = nil
			q.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				q.poster.Post(fn)
			}
		}
		q.deliverMu.Unlock()

		q.mu.Lock()
		empty := len(q.outbox) == 0
		q.mu.Unlock()
		if empty {
			return
		}
	}
}
