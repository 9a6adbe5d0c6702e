// Package geoindex indexes drop keys by geohash and serves live region and
// radius queries over them. Queries report membership changes as Entered and
// Exited events delivered through a dispatch.Poster.
package geoindex

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/photo-drop/internal/dispatch"
	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/store"
)

// Options tunes the index.
type Options struct {
	// Precision is the geohash length stored with each key.
	Precision uint
	// MaxCells bounds the number of geohash ranges scanned per query.
	MaxCells int
	// ScanTimeout bounds one query scan against the store.
	ScanTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Precision == 0 {
		o.Precision = 10
	}
	if o.MaxCells <= 0 {
		o.MaxCells = 16
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 10 * time.Second
	}
	return o
}

// Index is safe for concurrent use. Index.mu and Query.mu are never held
// together.
type Index struct {
	store store.Store
	opts  Options
	log   *zap.Logger

	mu      sync.Mutex
	queries map[*Query]struct{}
}

// New creates an index over st.
func New(st store.Store, opts Options) *Index {
	return &Index{
		store:   st,
		opts:    opts.withDefaults(),
		log:     zap.L().With(zap.String("component", "geoindex")),
		queries: make(map[*Query]struct{}),
	}
}

// SetLocation stores key at loc and updates every live query.
func (ix *Index) SetLocation(ctx context.Context, key string, loc model.Location) error {
	if err := loc.Validate(); err != nil {
		return eris.Wrapf(err, "geoindex: set location %s", key)
	}
	entry := model.GeoEntry{
		Key:       key,
		Geohash:   Encode(loc, ix.opts.Precision),
		Location:  loc,
		UpdatedAt: time.Now().UTC(),
	}
	if err := ix.store.SetLocation(ctx, entry); err != nil {
		return eris.Wrapf(err, "geoindex: set location %s", key)
	}
	ix.notify(key, loc, true)
	return nil
}

// RemoveKey deletes key from the index. Queries holding it report Exited.
func (ix *Index) RemoveKey(ctx context.Context, key string) error {
	if err := ix.store.RemoveLocation(ctx, key); err != nil {
		return eris.Wrapf(err, "geoindex: remove %s", key)
	}
	ix.notify(key, model.Location{}, false)
	return nil
}

// GetLocation returns the indexed entry for key, or store.ErrNotFound.
func (ix *Index) GetLocation(ctx context.Context, key string) (*model.GeoEntry, error) {
	e, err := ix.store.GetLocation(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "geoindex: get location %s", key)
	}
	return e, nil
}

// Keys lists every indexed key.
func (ix *Index) Keys(ctx context.Context) ([]string, error) {
	keys, err := ix.store.LocationKeys(ctx)
	return keys, eris.Wrap(err, "geoindex: keys")
}

// InBBox returns up to limit entries inside box.
func (ix *Index) InBBox(ctx context.Context, box model.BBox, limit int) ([]model.GeoEntry, error) {
	if err := box.Validate(); err != nil {
		return nil, eris.Wrap(err, "geoindex: bbox")
	}
	entries, err := ix.store.LocationsInBBox(ctx, box, limit)
	return entries, eris.Wrap(err, "geoindex: bbox")
}

// QueryRegion starts a live query over a fixed rectangle.
func (ix *Index) QueryRegion(region model.Region, poster dispatch.Poster) *Query {
	return ix.startQuery(region, false, poster)
}

// QueryCircle starts a live query over a circle whose center can be moved.
func (ix *Index) QueryCircle(center model.Location, radiusKm float64, poster dispatch.Poster) *Query {
	return ix.startQuery(model.Circle{Center: center, RadiusKm: radiusKm}, true, poster)
}

func (ix *Index) startQuery(sh Shape, circle bool, poster dispatch.Poster) *Query {
	q := newQuery(ix, sh, circle, poster)
	ix.mu.Lock()
	ix.queries[q] = struct{}{}
	ix.mu.Unlock()
	q.rescan()
	return q
}

func (ix *Index) removeQuery(q *Query) {
	ix.mu.Lock()
	delete(ix.queries, q)
	ix.mu.Unlock()
}

// ActiveQueries returns the number of live queries.
func (ix *Index) ActiveQueries() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.queries)
}

func (ix *Index) notify(key string, loc model.Location, present bool) {
	ix.mu.Lock()
	qs := make([]*Query, 0, len(ix.queries))
	for q := range ix.queries {
		qs = append(qs, q)
	}
	ix.mu.Unlock()

	for _, q := range qs {
		q.observe(key, loc, present)
	}
}

// Refresh rescans every live query. Writes made by other processes sharing
// the store become visible this way.
func (ix *Index) Refresh() {
	ix.mu.Lock()
	qs := make([]*Query, 0, len(ix.queries))
	for q := range ix.queries {
		qs = append(qs, q)
	}
	ix.mu.Unlock()

	for _, q := range qs {
		q.rescan()
	}
}

// RunRefresher calls Refresh every interval until ctx is done.
func (ix *Index) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ix.Refresh()
		}
	}
}

// scan reads every stored key inside sh.
func (ix *Index) scan(ctx context.Context, sh Shape) (map[string]model.Location, error) {
	ranges := Cover(sh.BBox(), ix.opts.Precision, ix.opts.MaxCells)

	results := make([][]model.GeoEntry, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, r := range ranges {
		g.Go(func() error {
			entries, err := ix.store.LocationsInRange(gctx, r.Start, r.End)
			if err != nil {
				return eris.Wrapf(err, "geoindex: scan %s", r.Start)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := make(map[string]model.Location)
	for _, entries := range results {
		for _, e := range entries {
			if sh.Contains(e.Location) {
				found[e.Key] = e.Location
			}
		}
	}
	return found, nil
}

func sortedKeys(m map[string]model.Location) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
