package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/photo-drop/internal/model"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	images    map[string]model.StoredImage
	locations map[string]model.GeoEntry
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		images:    make(map[string]model.StoredImage),
		locations: make(map[string]model.GeoEntry),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) GetImage(_ context.Context, key string) (*model.StoredImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: get image %s", key)
	}
	return &img, nil
}

func (s *MemoryStore) PutImage(_ context.Context, key, payload string) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[key]
	if !ok {
		img = model.StoredImage{Key: key, CreatedAt: now}
	}
	img.Payload = payload
	img.UpdatedAt = now
	s.images[key] = img
	return nil
}

func (s *MemoryStore) DeleteImage(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.images, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ImageKeys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.images))
	for k := range s.images {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) SetLocation(_ context.Context, entry model.GeoEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.locations[entry.Key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetLocation(_ context.Context, key string) (*model.GeoEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.locations[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: get location %s", key)
	}
	return &e, nil
}

func (s *MemoryStore) RemoveLocation(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.locations, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LocationsInRange(_ context.Context, start, end string) ([]model.GeoEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.GeoEntry
	for _, e := range s.locations {
		if e.Geohash >= start && e.Geohash <= end {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Geohash < out[j].Geohash })
	return out, nil
}

func (s *MemoryStore) LocationsInBBox(_ context.Context, box model.BBox, limit int) ([]model.GeoEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.GeoEntry
	for _, e := range s.locations {
		if box.Contains(e.Location) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LocationKeys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.locations))
	for k := range s.locations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Driver: "memory", Images: len(s.images), Locations: len(s.locations)}, nil
}
