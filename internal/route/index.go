// Package route wraps an uploaded track as an immutable, spatially indexed
// sequence of samples with cumulative along-track distance.
package route

import (
	"errors"
	"math"
	"sort"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"mapahead/internal/geo"
	"mapahead/internal/model"
)

// ErrInvalidRoute is returned when a track has fewer than two samples.
var ErrInvalidRoute = errors.New("invalid route: at least two points required")

// cellLevel is the s2 cell level used to bucket samples. Level 13 cells are
// roughly a kilometer across, on the order of typical sample spacing.
const cellLevel = 13

// shortlistStartKm and shortlistMaxKm bound the expanding nearest-neighbor
// search before falling back to a full scan.
const (
	shortlistStartKm = 2.0
	shortlistMaxKm   = 512.0
)

// Index owns the ordered samples of one track and an s2 cell index over
// their coordinates. It is read-only after construction.
type Index struct {
	points []model.RoutePoint
	cells  map[s2.CellID][]int
	total  float64
}

// NewIndex computes cumulative distances for the given samples and builds
// the spatial index. The input slice is copied; Lat/Lon/Elevation are taken
// as-is and DistanceKm is overwritten.
func NewIndex(samples []model.RoutePoint) (*Index, error) {
	if len(samples) < 2 {
		return nil, ErrInvalidRoute
	}
	points := make([]model.RoutePoint, len(samples))
	copy(points, samples)

	points[0].DistanceKm = 0
	cum := 0.0
	for i := 1; i < len(points); i++ {
		cum += geo.Distance(coord(points[i-1]), coord(points[i]))
		points[i].DistanceKm = cum
	}

	cells := make(map[s2.CellID][]int, len(points))
	for i, p := range points {
		cid := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon)).Parent(cellLevel)
		cells[cid] = append(cells[cid], i)
	}
	return &Index{points: points, cells: cells, total: cum}, nil
}

// Points returns the ordered samples with cumulative distances. Callers must
// not mutate the returned slice.
func (ix *Index) Points() []model.RoutePoint { return ix.points }

// TotalLength returns the cumulative distance of the last sample in km.
func (ix *Index) TotalLength() float64 { return ix.total }

// Envelope returns the coordinate envelope of the track.
func (ix *Index) Envelope() geo.BBox {
	pts := make([]geo.Point, len(ix.points))
	for i, p := range ix.points {
		pts[i] = coord(p)
	}
	return geo.BoundingBox(pts)
}

// Match describes the nearest position on the track to a query point.
type Match struct {
	// SegmentIndex is the index of the segment start sample.
	SegmentIndex int
	// Closest is the nearest point on that segment.
	Closest geo.Point
	// DistanceKm is the distance from the query point to Closest.
	DistanceKm float64
	// OnRouteKm is the cumulative track distance at Closest.
	OnRouteKm float64
}

// Nearest returns the closest position on the track to p. Shortlisted
// samples come from the cell index; both segments adjacent to each
// shortlisted sample are then refined so a point abeam the middle of a long
// segment is measured against the segment, not just its endpoints. Ties
// resolve to the lower segment index.
func (ix *Index) Nearest(p geo.Point) Match {
	samples := ix.shortlist(p)

	seen := make(map[int]bool, len(samples)*2)
	segs := make([]int, 0, len(samples)*2)
	for _, i := range samples {
		for _, s := range []int{i - 1, i} {
			if s < 0 || s > len(ix.points)-2 || seen[s] {
				continue
			}
			seen[s] = true
			segs = append(segs, s)
		}
	}
	sort.Ints(segs)

	// A later segment must beat the incumbent by more than floating-point
	// noise, so equidistant segments resolve to the lower index.
	const tieEpsilonKm = 1e-9

	best := Match{SegmentIndex: -1, DistanceKm: math.Inf(1)}
	for _, s := range segs {
		closest, d := geo.ProjectToSegment(p, coord(ix.points[s]), coord(ix.points[s+1]))
		if d < best.DistanceKm-tieEpsilonKm {
			best = Match{
				SegmentIndex: s,
				Closest:      closest,
				DistanceKm:   d,
				OnRouteKm:    ix.points[s].DistanceKm + geo.Distance(coord(ix.points[s]), closest),
			}
		}
	}
	return best
}

// shortlist returns sample indices near p, growing the search cap until it
// finds any. Beyond shortlistMaxKm every sample is returned; a full scan on
// a track far from the query is cheaper than covering the planet in cells.
func (ix *Index) shortlist(p geo.Point) []int {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
	coverer := &s2.RegionCoverer{MinLevel: cellLevel, MaxLevel: cellLevel, MaxCells: 256}

	for radiusKm := shortlistStartKm; radiusKm <= shortlistMaxKm; radiusKm *= 4 {
		cap := s2.CapFromCenterAngle(center, s1.Angle(radiusKm/geo.EarthRadiusKm))
		var out []int
		for _, cid := range coverer.Covering(cap) {
			out = append(out, ix.cells[cid]...)
		}
		if len(out) > 0 {
			sort.Ints(out)
			return out
		}
	}

	all := make([]int, len(ix.points))
	for i := range all {
		all[i] = i
	}
	return all
}

func coord(p model.RoutePoint) geo.Point { return geo.Point{Lat: p.Lat, Lon: p.Lon} }
