package model

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  Location
		ok   bool
	}{
		{"origin", Location{0, 0}, true},
		{"san francisco", Location{37.7749, -122.4194}, true},
		{"north pole", Location{90, 0}, true},
		{"antimeridian", Location{0, 180}, true},
		{"lat too high", Location{90.1, 0}, false},
		{"lng too low", Location{0, -180.5}, false},
		{"nan", Location{math.NaN(), 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.loc.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidLocation))
		})
	}
}

func TestDistanceKm(t *testing.T) {
	t.Parallel()

	sf := Location{Latitude: 37.7749, Longitude: -122.4194}
	la := Location{Latitude: 34.0522, Longitude: -118.2437}

	assert.InDelta(t, 559.0, DistanceKm(sf, la), 5.0)
	assert.InDelta(t, 0.0, DistanceKm(sf, sf), 1e-9)
	assert.InDelta(t, DistanceKm(sf, la), DistanceKm(la, sf), 1e-9)
}

func TestRegionBBox(t *testing.T) {
	t.Parallel()

	r := Region{
		Center: Location{Latitude: 37.0, Longitude: -122.0},
		Span:   Span{LatDelta: 0.0125, LngDelta: 0.0125},
	}
	b := r.BBox()

	assert.InDelta(t, 36.99375, b.MinLat, 1e-9)
	assert.InDelta(t, 37.00625, b.MaxLat, 1e-9)
	assert.InDelta(t, -122.00625, b.MinLng, 1e-9)
	assert.InDelta(t, -121.99375, b.MaxLng, 1e-9)

	assert.True(t, r.Contains(Location{Latitude: 37.005, Longitude: -122.005}))
	assert.False(t, r.Contains(Location{Latitude: 37.01, Longitude: -122.0}))
}

func TestRegionBBox_ClampsAtPole(t *testing.T) {
	t.Parallel()

	r := Region{Center: Location{Latitude: 89.99, Longitude: 0}, Span: Span{LatDelta: 1, LngDelta: 1}}
	assert.Equal(t, 90.0, r.BBox().MaxLat)
}

func TestCircle(t *testing.T) {
	t.Parallel()

	c := Circle{Center: Location{Latitude: 37.0, Longitude: -122.0}, RadiusKm: 0.05}

	assert.True(t, c.Contains(c.Center))
	// ~33m north.
	assert.True(t, c.Contains(Location{Latitude: 37.0003, Longitude: -122.0}))
	// ~111m north.
	assert.False(t, c.Contains(Location{Latitude: 37.001, Longitude: -122.0}))

	b := c.BBox()
	assert.True(t, b.Contains(Location{Latitude: 37.0004, Longitude: -122.0005}))
	assert.Greater(t, b.MaxLng-b.MinLng, b.MaxLat-b.MinLat, "longitude degrees are shorter away from the equator")
}

func TestBBoxValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, BBox{MinLat: 1, MinLng: 1, MaxLat: 2, MaxLng: 2}.Validate())
	assert.Error(t, BBox{MinLat: 2, MinLng: 1, MaxLat: 1, MaxLng: 2}.Validate())
	assert.Error(t, BBox{MinLat: -91, MinLng: 1, MaxLat: 1, MaxLng: 2}.Validate())
}
