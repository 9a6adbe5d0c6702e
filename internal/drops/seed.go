package drops

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/photo"
)

// SeedEntry is one drop in a seed file.
type SeedEntry struct {
	Image     string  `yaml:"image"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Location returns the entry's coordinate.
func (e SeedEntry) Location() model.Location {
	return model.Location{Latitude: e.Latitude, Longitude: e.Longitude}
}

// SeedFile is the YAML layout read by LoadSeedFile.
type SeedFile struct {
	Drops []SeedEntry `yaml:"drops"`
}

// SeedResult is the outcome of one seeded drop.
type SeedResult struct {
	Image string `json:"image"`
	Key   string `json:"key"`
}

// LoadSeedFile reads a seed file. Relative image paths are resolved against
// the file's directory.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "drops: read seed file %s", path)
	}

	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "drops: parse seed file")
	}

	dir := filepath.Dir(path)
	for i := range f.Drops {
		e := &f.Drops[i]
		if e.Image == "" {
			return nil, eris.Errorf("drops: seed entry %d has no image", i)
		}
		if err := e.Location().Validate(); err != nil {
			return nil, eris.Wrapf(err, "drops: seed entry %d", i)
		}
		if !filepath.IsAbs(e.Image) {
			e.Image = filepath.Join(dir, e.Image)
		}
	}
	return &f, nil
}

// DropFile prepares the image at path and drops it at loc.
func (s *Service) DropFile(ctx context.Context, path string, loc model.Location, bounds int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "drops: open %s", path)
	}
	defer f.Close()

	payload, err := photo.Prepare(f, bounds, 0)
	if err != nil {
		return "", eris.Wrapf(err, "drops: prepare %s", path)
	}
	return s.Drop(ctx, payload, loc)
}

// Seed drops every entry with at most concurrency drops in flight. Results
// keep the order of entries. The first failure cancels the rest.
func (s *Service) Seed(ctx context.Context, entries []SeedEntry, bounds, concurrency int) ([]SeedResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]SeedResult, len(entries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, e := range entries {
		g.Go(func() error {
			key, err := s.DropFile(gCtx, e.Image, e.Location(), bounds)
			if err != nil {
				return eris.Wrapf(err, "drops: seed %s", e.Image)
			}
			results[i] = SeedResult{Image: e.Image, Key: key}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info("seed complete", zap.Int("drops", len(results)))
	return results, nil
}
