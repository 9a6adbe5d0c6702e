package geoindex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/photo-drop/internal/model"
)

func inAnyRange(hash string, ranges []Range) bool {
	for _, r := range ranges {
		if hash >= r.Start && hash <= r.End {
			return true
		}
	}
	return false
}

func TestCover_SmallCircleUsesFewCells(t *testing.T) {
	c := model.Circle{Center: model.Location{Latitude: 37.0, Longitude: -122.0}, RadiusKm: 0.05}
	ranges := Cover(c.BBox(), 10, 16)

	require.NotEmpty(t, ranges)
	assert.LessOrEqual(t, len(ranges), 16)
	for _, r := range ranges {
		assert.Equal(t, r.Start+"~", r.End)
	}
	assert.True(t, inAnyRange(Encode(c.Center, 10), ranges))
}

func TestCover_ContainsBoxCorners(t *testing.T) {
	tests := []struct {
		name string
		box  model.BBox
	}{
		{"san francisco", model.BBox{MinLat: 37.77, MinLng: -122.43, MaxLat: 37.79, MaxLng: -122.40}},
		{"equator", model.BBox{MinLat: -0.01, MinLng: -0.01, MaxLat: 0.01, MaxLng: 0.01}},
		{"sydney", model.BBox{MinLat: -33.88, MinLng: 151.20, MaxLat: -33.86, MaxLng: 151.22}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranges := Cover(tt.box, 10, 16)
			assert.LessOrEqual(t, len(ranges), 16)
			corners := []model.Location{
				{Latitude: tt.box.MinLat, Longitude: tt.box.MinLng},
				{Latitude: tt.box.MinLat, Longitude: tt.box.MaxLng},
				{Latitude: tt.box.MaxLat, Longitude: tt.box.MinLng},
				{Latitude: tt.box.MaxLat, Longitude: tt.box.MaxLng},
			}
			for _, c := range corners {
				assert.True(t, inAnyRange(Encode(c, 10), ranges), "corner %+v not covered", c)
			}
		})
	}
}

func TestCover_WholeWorldFallsBackToSingleChar(t *testing.T) {
	ranges := Cover(model.BBox{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}, 10, 16)
	assert.Len(t, ranges, 32)
	for _, r := range ranges {
		assert.Len(t, r.Start, 1)
	}
}

func TestCover_PrecisionCap(t *testing.T) {
	box := model.BBox{MinLat: 37.0, MinLng: -122.0, MaxLat: 37.0, MaxLng: -122.0}
	ranges := Cover(box, 5, 16)
	require.Len(t, ranges, 1)
	assert.Len(t, ranges[0].Start, 5)
	assert.True(t, strings.HasPrefix(Encode(model.Location{Latitude: 37.0, Longitude: -122.0}, 10), ranges[0].Start))
}

func TestEncode_KnownHash(t *testing.T) {
	// Jutland reference point from the geohash paper.
	assert.Equal(t, "u4pruydqqv", Encode(model.Location{Latitude: 57.64911, Longitude: 10.40744}, 10))
}
