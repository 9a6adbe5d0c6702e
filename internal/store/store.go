package store

import (
	"context"
	"errors"

	"github.com/sells-group/photo-drop/internal/model"
)

// ErrNotFound is returned when an image or location does not exist.
var ErrNotFound = errors.New("store: not found")

// Stats summarizes the contents of a store.
type Stats struct {
	Driver    string `json:"driver"`
	Images    int    `json:"images"`
	Locations int    `json:"locations"`
}

// Store persists drop images and their indexed locations. The two halves are
// written independently; callers that need both in step use the drops saga.
type Store interface {
	// Images
	GetImage(ctx context.Context, key string) (*model.StoredImage, error)
	PutImage(ctx context.Context, key, payload string) error
	DeleteImage(ctx context.Context, key string) error
	ImageKeys(ctx context.Context) ([]string, error)

	// Locations
	SetLocation(ctx context.Context, entry model.GeoEntry) error
	GetLocation(ctx context.Context, key string) (*model.GeoEntry, error)
	RemoveLocation(ctx context.Context, key string) error
	// LocationsInRange returns entries whose geohash sorts within [start, end].
	LocationsInRange(ctx context.Context, start, end string) ([]model.GeoEntry, error)
	LocationsInBBox(ctx context.Context, box model.BBox, limit int) ([]model.GeoEntry, error)
	LocationKeys(ctx context.Context) ([]string, error)

	// Lifecycle
	Stats(ctx context.Context) (Stats, error)
	Migrate(ctx context.Context) error
	Close() error
}
