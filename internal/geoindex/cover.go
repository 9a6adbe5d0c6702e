package geoindex

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"

	"github.com/sells-group/photo-drop/internal/model"
)

// Range is an inclusive lexicographic geohash range. Every hash with the
// cell as prefix sorts within [Start, End].
type Range struct {
	Start string
	End   string
}

// cellSize returns the latitude and longitude extent of a geohash cell with
// the given number of characters.
func cellSize(chars uint) (latDeg, lngDeg float64) {
	bits := chars * 5
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	return 180 / math.Exp2(float64(latBits)), 360 / math.Exp2(float64(lngBits))
}

func cellIndex(v, origin, size float64, limit int) int {
	i := int(math.Floor((v - origin) / size))
	if i < 0 {
		return 0
	}
	if i >= limit {
		return limit - 1
	}
	return i
}

// Cover returns the geohash cells that together contain box. It uses the
// longest cell length, up to precision, whose covering needs at most
// maxCells cells. Boxes crossing the antimeridian are not supported.
func Cover(box model.BBox, precision uint, maxCells int) []Range {
	if precision < 1 {
		precision = 1
	}
	if maxCells < 1 {
		maxCells = 1
	}

	chars := precision
	for ; chars > 1; chars-- {
		if countCells(box, chars) <= maxCells {
			break
		}
	}

	latDeg, lngDeg := cellSize(chars)
	latCells := int(math.Round(180 / latDeg))
	lngCells := int(math.Round(360 / lngDeg))
	i0 := cellIndex(box.MinLat, -90, latDeg, latCells)
	i1 := cellIndex(box.MaxLat, -90, latDeg, latCells)
	j0 := cellIndex(box.MinLng, -180, lngDeg, lngCells)
	j1 := cellIndex(box.MaxLng, -180, lngDeg, lngCells)

	seen := make(map[string]struct{})
	var cells []string
	for i := i0; i <= i1; i++ {
		lat := -90 + (float64(i)+0.5)*latDeg
		for j := j0; j <= j1; j++ {
			lng := -180 + (float64(j)+0.5)*lngDeg
			h := geohash.EncodeWithPrecision(lat, lng, chars)
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			cells = append(cells, h)
		}
	}
	sort.Strings(cells)

	ranges := make([]Range, 0, len(cells))
	for _, c := range cells {
		ranges = append(ranges, Range{Start: c, End: c + "~"})
	}
	return ranges
}

func countCells(box model.BBox, chars uint) int {
	latDeg, lngDeg := cellSize(chars)
	latCells := int(math.Round(180 / latDeg))
	lngCells := int(math.Round(360 / lngDeg))
	rows := cellIndex(box.MaxLat, -90, latDeg, latCells) - cellIndex(box.MinLat, -90, latDeg, latCells) + 1
	cols := cellIndex(box.MaxLng, -180, lngDeg, lngCells) - cellIndex(box.MinLng, -180, lngDeg, lngCells) + 1
	return rows * cols
}

// Encode returns the geohash of loc with the given number of characters.
func Encode(loc model.Location, precision uint) string {
	return geohash.EncodeWithPrecision(loc.Latitude, loc.Longitude, precision)
}
