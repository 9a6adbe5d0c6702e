// Package imagestore is the key to payload store for dropped photos. Besides
// reads and writes it lets callers observe a key: listeners get the current
// value and, unless observing once, every later change.
package imagestore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/dispatch"
	"github.com/sells-group/photo-drop/internal/resilience"
	"github.com/sells-group/photo-drop/internal/store"
)

// Value is what a listener receives for a key. Exists is false when the key
// holds nothing; Err is set when the read failed.
type Value struct {
	Key     string
	Payload string
	Exists  bool
	Err     error
}

// Listener receives values on the poster it was registered with.
type Listener func(Value)

// Subscription is an attached listener.
type Subscription interface {
	// Detach stops delivery. After Detach returns the listener is never
	// invoked again, apart from a call already in progress.
	Detach()
}

// Options configures Images.
type Options struct {
	CacheEntries  int
	CacheTTL      time.Duration
	RetryAttempts int
}

// Images is safe for concurrent use.
type Images struct {
	store store.Store
	cache *Cache
	retry resilience.RetryConfig
	log   *zap.Logger

	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

// New creates an image store over st.
func New(st store.Store, opts Options) *Images {
	retry := resilience.StoreRetry(opts.RetryAttempts)
	retry.OnRetry = resilience.RetryLogger("imagestore", "store")
	return &Images{
		store:    st,
		cache:    NewCache(opts.CacheEntries, opts.CacheTTL),
		retry:    retry,
		log:      zap.L().With(zap.String("component", "imagestore")),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// GenerateKey returns a new time-ordered unique key.
func (i *Images) GenerateKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Write stores payload at key, creating or replacing it.
func (i *Images) Write(ctx context.Context, key, payload string) error {
	if key == "" {
		return eris.New("imagestore: empty key")
	}
	err := resilience.Do(ctx, i.retry, func(ctx context.Context) error {
		return i.store.PutImage(ctx, key, payload)
	})
	if err != nil {
		i.cache.Invalidate(key)
		return eris.Wrapf(err, "imagestore: write %s", key)
	}
	i.cache.Put(key, payload)
	i.notify(Value{Key: key, Payload: payload, Exists: true})
	return nil
}

// Overwrite replaces the payload of an existing key. It returns
// store.ErrNotFound if the key holds nothing. Existence is checked against
// the store, never the cache, since another process may have deleted it.
func (i *Images) Overwrite(ctx context.Context, key, payload string) error {
	v, err := i.fetch(ctx, key)
	if err != nil {
		return eris.Wrapf(err, "imagestore: overwrite %s", key)
	}
	if !v.Exists {
		return eris.Wrapf(store.ErrNotFound, "imagestore: overwrite %s", key)
	}
	return i.Write(ctx, key, payload)
}

// Read returns the current value of key from the store. A missing key is
// not an error. When the store read fails the last cached payload is served
// instead, if one is still fresh.
func (i *Images) Read(ctx context.Context, key string) (Value, error) {
	v, err := i.fetch(ctx, key)
	if err == nil {
		return v, nil
	}
	if payload, ok := i.cache.Get(key); ok {
		i.log.Warn("read: serving cached payload", zap.String("key", key), zap.Error(err))
		return Value{Key: key, Payload: payload, Exists: true}, nil
	}
	return v, err
}

// fetch reads key from the store and keeps the cache in step with it.
func (i *Images) fetch(ctx context.Context, key string) (Value, error) {
	img, err := resilience.DoVal(ctx, i.retry, func(ctx context.Context) (string, error) {
		img, err := i.store.GetImage(ctx, key)
		if err != nil {
			return "", err
		}
		return img.Payload, nil
	})
	if eris.Is(err, store.ErrNotFound) {
		i.cache.Invalidate(key)
		return Value{Key: key}, nil
	}
	if err != nil {
		return Value{Key: key, Err: err}, eris.Wrapf(err, "imagestore: read %s", key)
	}
	i.cache.Put(key, img)
	return Value{Key: key, Payload: img, Exists: true}, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (i *Images) Delete(ctx context.Context, key string) error {
	err := resilience.Do(ctx, i.retry, func(ctx context.Context) error {
		return i.store.DeleteImage(ctx, key)
	})
	i.cache.Invalidate(key)
	if err != nil {
		return eris.Wrapf(err, "imagestore: delete %s", key)
	}
	i.notify(Value{Key: key})
	return nil
}

// Keys lists every stored key.
func (i *Images) Keys(ctx context.Context) ([]string, error) {
	keys, err := i.store.ImageKeys(ctx)
	return keys, eris.Wrap(err, "imagestore: keys")
}

// CacheStats reports payload cache usage.
func (i *Images) CacheStats() CacheStats {
	return i.cache.Stats()
}

// Observe delivers the current value of key to fn and then every change
// until the subscription is detached.
func (i *Images) Observe(ctx context.Context, key string, poster dispatch.Poster, fn Listener) Subscription {
	return i.attach(ctx, key, poster, fn, false)
}

// ObserveOnce delivers exactly one value of key to fn. The subscription
// detaches itself before fn runs, so later writes never reach fn.
func (i *Images) ObserveOnce(ctx context.Context, key string, poster dispatch.Poster, fn Listener) Subscription {
	return i.attach(ctx, key, poster, fn, true)
}

// Watchers returns the number of attached listeners on key.
func (i *Images) Watchers(key string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.watchers[key])
}

func (i *Images) attach(ctx context.Context, key string, poster dispatch.Poster, fn Listener, once bool) Subscription {
	if poster == nil {
		poster = dispatch.Inline{}
	}
	w := &watcher{images: i, key: key, poster: poster, fn: fn, once: once}

	i.mu.Lock()
	set, ok := i.watchers[key]
	if !ok {
		set = make(map[*watcher]struct{})
		i.watchers[key] = set
	}
	set[w] = struct{}{}
	i.mu.Unlock()

	go func() {
		v, err := i.Read(ctx, key)
		if err != nil {
			i.log.Warn("observe: initial read failed", zap.String("key", key), zap.Error(err))
		}
		w.offer(v, true)
	}()
	return w
}

func (i *Images) notify(v Value) {
	i.mu.Lock()
	ws := make([]*watcher, 0, len(i.watchers[v.Key]))
	for w := range i.watchers[v.Key] {
		ws = append(ws, w)
	}
	i.mu.Unlock()

	for _, w := range ws {
		w.offer(v, false)
	}
}

func (i *Images) remove(w *watcher) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if set, ok := i.watchers[w.key]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(i.watchers, w.key)
		}
	}
}

type watcher struct {
	images *Images
	key    string
	poster dispatch.Poster
	fn     Listener
	once   bool

	mu       sync.Mutex
	detached bool
	claimed  bool // once: a value has been handed to fn
	notified bool // a change notification was offered
}

// offer schedules v for delivery. The initial read is dropped if a change
// notification already overtook it, since the notification is newer.
func (w *watcher) offer(v Value, initial bool) {
	w.mu.Lock()
	if w.detached || (initial && w.notified) {
		w.mu.Unlock()
		return
	}
	if !initial {
		w.notified = true
	}
	w.mu.Unlock()

	w.poster.Post(func() { w.deliver(v) })
}

// deliver runs on the listener's poster. For one-shot watchers the first
// delivery claims the watcher under its lock and detaches it, so a second
// queued value can never reach fn.
func (w *watcher) deliver(v Value) {
	w.mu.Lock()
	if w.detached || (w.once && w.claimed) {
		w.mu.Unlock()
		return
	}
	if w.once {
		w.claimed = true
		w.detached = true
	}
	w.mu.Unlock()

	if w.once {
		w.images.remove(w)
	}
	w.fn(v)
}

func (w *watcher) Detach() {
	w.mu.Lock()
	w.detached = true
	w.mu.Unlock()
	w.images.remove(w)
}
