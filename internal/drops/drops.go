// Package drops creates photo drops and keeps the image store and the geo
// index in step. A drop writes the image first and then registers its
// location; reconcile removes whatever a failed drop left behind.
package drops

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/model"
)

// ErrEmptyPayload is returned when a drop has no photo.
var ErrEmptyPayload = eris.New("drops: empty payload")

// Images is the image store surface the service needs.
type Images interface {
	GenerateKey() string
	Write(ctx context.Context, key, payload string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Index is the geo index surface the service needs.
type Index interface {
	SetLocation(ctx context.Context, key string, loc model.Location) error
	RemoveKey(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Service stores drops across both stores. It is safe for concurrent use.
type Service struct {
	images Images
	index  Index
	log    *zap.Logger
}

// New creates a drops service.
func New(images Images, index Index) *Service {
	return &Service{
		images: images,
		index:  index,
		log:    zap.L().With(zap.String("component", "drops")),
	}
}

// compensateTimeout bounds the cleanup after a failed location write.
const compensateTimeout = 5 * time.Second

// Drop stores payload under a new key at loc and returns the key. If the
// location cannot be registered the image is deleted again.
func (s *Service) Drop(ctx context.Context, payload string, loc model.Location) (string, error) {
	if payload == "" {
		return "", ErrEmptyPayload
	}
	if err := loc.Validate(); err != nil {
		return "", eris.Wrap(err, "drops: drop")
	}

	key := s.images.GenerateKey()
	if err := s.images.Write(ctx, key, payload); err != nil {
		return "", eris.Wrap(err, "drops: write image")
	}

	if err := s.index.SetLocation(ctx, key, loc); err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		defer cancel()
		if derr := s.images.Delete(cctx, key); derr != nil {
			s.log.Error("orphaned image after failed drop",
				zap.String("key", key), zap.Error(derr))
		}
		return "", eris.Wrapf(err, "drops: register location %s", key)
	}

	s.log.Info("photo dropped",
		zap.String("key", key),
		zap.Float64("lat", loc.Latitude),
		zap.Float64("lng", loc.Longitude),
	)
	return key, nil
}
