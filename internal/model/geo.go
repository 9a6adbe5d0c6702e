package model

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidLocation is returned for coordinates outside the WGS84 range.
var ErrInvalidLocation = eris.New("model: invalid location")

const earthRadiusKm = 6371.0

// kmPerDegreeLat is the length of one degree of latitude.
const kmPerDegreeLat = 111.32

// Location is a WGS84 coordinate in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Validate checks that the coordinate is finite and within range.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) ||
		l.Latitude < -90 || l.Latitude > 90 ||
		l.Longitude < -180 || l.Longitude > 180 {
		return eris.Wrapf(ErrInvalidLocation, "lat=%v lng=%v", l.Latitude, l.Longitude)
	}
	return nil
}

// DistanceKm returns the great-circle distance between two locations.
func DistanceKm(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BBox is a rectangle in degrees. It does not wrap the antimeridian.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether l lies inside the box, edges included.
func (b BBox) Contains(l Location) bool {
	return l.Latitude >= b.MinLat && l.Latitude <= b.MaxLat &&
		l.Longitude >= b.MinLng && l.Longitude <= b.MaxLng
}

// BBox returns the box itself so a BBox can be used as a query shape.
func (b BBox) BBox() BBox { return b }

// Validate checks the corners and their ordering.
func (b BBox) Validate() error {
	if err := (Location{Latitude: b.MinLat, Longitude: b.MinLng}).Validate(); err != nil {
		return err
	}
	if err := (Location{Latitude: b.MaxLat, Longitude: b.MaxLng}).Validate(); err != nil {
		return err
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return eris.Wrap(ErrInvalidLocation, "bbox corners out of order")
	}
	return nil
}

// Span is the size of a map region in degrees.
type Span struct {
	LatDelta float64 `json:"lat_delta"`
	LngDelta float64 `json:"lng_delta"`
}

// Region is a visible map rectangle described by its center and span.
type Region struct {
	Center Location `json:"center"`
	Span   Span     `json:"span"`
}

// BBox converts the region to a bounding box, clamped to valid latitudes.
func (r Region) BBox() BBox {
	halfLat := r.Span.LatDelta / 2
	halfLng := r.Span.LngDelta / 2
	return BBox{
		MinLat: math.Max(-90, r.Center.Latitude-halfLat),
		MinLng: math.Max(-180, r.Center.Longitude-halfLng),
		MaxLat: math.Min(90, r.Center.Latitude+halfLat),
		MaxLng: math.Min(180, r.Center.Longitude+halfLng),
	}
}

// Contains reports whether l lies in the region's rectangle.
func (r Region) Contains(l Location) bool {
	return r.BBox().Contains(l)
}

// Circle is a point plus a radius in kilometers.
type Circle struct {
	Center   Location `json:"center"`
	RadiusKm float64  `json:"radius_km"`
}

// Contains reports whether l is within the radius of the center.
func (c Circle) Contains(l Location) bool {
	return DistanceKm(c.Center, l) <= c.RadiusKm
}

// BBox returns the smallest box enclosing the circle.
func (c Circle) BBox() BBox {
	latDelta := c.RadiusKm / kmPerDegreeLat
	cosLat := math.Cos(c.Center.Latitude * math.Pi / 180)

	lngDelta := 180.0
	if cosLat > 1e-9 {
		lngDelta = math.Min(180, latDelta/cosLat)
	}

	return BBox{
		MinLat: math.Max(-90, c.Center.Latitude-latDelta),
		MinLng: math.Max(-180, c.Center.Longitude-lngDelta),
		MaxLat: math.Min(90, c.Center.Latitude+latDelta),
		MaxLng: math.Min(180, c.Center.Longitude+lngDelta),
	}
}
