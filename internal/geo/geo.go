// Package geo provides the small amount of spherical geometry the rest of
// the service needs: great-circle distances, point-to-segment projection and
// bounding boxes around coordinate sets.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for all distance conversions.
const EarthRadiusKm = 6371.0

// kmPerDegree approximates one degree of latitude in kilometers, used when
// buffering bounding boxes.
const kmPerDegree = 111.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Distance returns the great-circle distance between a and b in kilometers.
func Distance(a, b Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// ProjectToSegment returns the closest point on the segment from a to b to p,
// and the distance from p to that point in kilometers. Consecutive track
// samples are close enough together that a locally flat equirectangular
// projection around the segment is sufficient. A degenerate segment (a == b)
// falls back to the point-to-point distance.
func ProjectToSegment(p, a, b Point) (Point, float64) {
	latRef := (a.Lat + b.Lat) / 2 * math.Pi / 180
	cosRef := math.Cos(latRef)

	// Local planar coordinates in degree units, longitude scaled by the
	// reference latitude.
	ax, ay := a.Lon*cosRef, a.Lat
	bx, by := b.Lon*cosRef, b.Lat
	px, py := p.Lon*cosRef, p.Lat

	dx, dy := bx-ax, by-ay
	segLenSq := dx*dx + dy*dy
	if segLenSq < 1e-18 {
		return a, Distance(p, a)
	}

	t := ((px-ax)*dx + (py-ay)*dy) / segLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lon: a.Lon + t*(b.Lon-a.Lon),
	}
	return closest, Distance(p, closest)
}

// BBox is a geographic rectangle in decimal degrees.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundingBox returns the coordinate envelope of the given points.
func BoundingBox(points []Point) BBox {
	if len(points) == 0 {
		return BBox{}
	}
	box := BBox{South: points[0].Lat, North: points[0].Lat, West: points[0].Lon, East: points[0].Lon}
	for _, p := range points[1:] {
		if p.Lat < box.South {
			box.South = p.Lat
		}
		if p.Lat > box.North {
			box.North = p.Lat
		}
		if p.Lon < box.West {
			box.West = p.Lon
		}
		if p.Lon > box.East {
			box.East = p.Lon
		}
	}
	return box
}

// Expand grows the box by bufferKm on every side using the flat-earth degree
// approximation, matching how upstream bounding-box queries are scoped.
func (b BBox) Expand(bufferKm float64) BBox {
	d := bufferKm / kmPerDegree
	return BBox{South: b.South - d, West: b.West - d, North: b.North + d, East: b.East + d}
}
