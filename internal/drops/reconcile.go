package drops

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ReconcileOptions controls a reconcile run.
type ReconcileOptions struct {
	// DryRun reports orphans without removing them.
	DryRun bool
	// Grace skips images whose key is younger than this, so drops still in
	// flight are not mistaken for orphans.
	Grace time.Duration
	// Now overrides the clock for key age checks.
	Now func() time.Time
}

// Report summarizes a reconcile run.
type Report struct {
	Images          int      `json:"images"`
	Locations       int      `json:"locations"`
	OrphanImages    []string `json:"orphan_images"`
	OrphanLocations []string `json:"orphan_locations"`
	Skipped         int      `json:"skipped"`
	Removed         int      `json:"removed"`
	DryRun          bool     `json:"dry_run"`
}

// Reconcile removes images that have no location and locations that have no
// image.
func (s *Service) Reconcile(ctx context.Context, opts ReconcileOptions) (*Report, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	imageKeys, err := s.images.Keys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "drops: reconcile list images")
	}
	locationKeys, err := s.index.Keys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "drops: reconcile list locations")
	}

	images := toSet(imageKeys)
	locations := toSet(locationKeys)
	report := &Report{
		Images:    len(images),
		Locations: len(locations),
		DryRun:    opts.DryRun,
	}

	for key := range images {
		if _, ok := locations[key]; ok {
			continue
		}
		if opts.Grace > 0 && keyAge(key, now()) < opts.Grace {
			report.Skipped++
			continue
		}
		report.OrphanImages = append(report.OrphanImages, key)
	}
	for key := range locations {
		if _, ok := images[key]; !ok {
			report.OrphanLocations = append(report.OrphanLocations, key)
		}
	}
	sort.Strings(report.OrphanImages)
	sort.Strings(report.OrphanLocations)

	if opts.DryRun {
		return report, nil
	}

	for _, key := range report.OrphanImages {
		if err := s.images.Delete(ctx, key); err != nil {
			return report, eris.Wrapf(err, "drops: reconcile delete image %s", key)
		}
		report.Removed++
	}
	for _, key := range report.OrphanLocations {
		if err := s.index.RemoveKey(ctx, key); err != nil {
			return report, eris.Wrapf(err, "drops: reconcile remove location %s", key)
		}
		report.Removed++
	}

	s.log.Info("reconcile complete",
		zap.Int("orphan_images", len(report.OrphanImages)),
		zap.Int("orphan_locations", len(report.OrphanLocations)),
		zap.Int("removed", report.Removed),
	)
	return report, nil
}

// keyAge returns how old a UUIDv7 key is. Keys without a timestamp count as
// arbitrarily old.
func keyAge(key string, now time.Time) time.Duration {
	id, err := uuid.Parse(key)
	if err != nil || id.Version() != 7 {
		return time.Duration(math.MaxInt64)
	}
	sec, nsec := id.Time().UnixTime()
	return now.Sub(time.Unix(sec, nsec))
}

func toSet(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}
