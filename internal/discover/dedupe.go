package discover

import (
	"fmt"
	"hash/fnv"
	"sort"

	"mapahead/internal/geo"
	"mapahead/internal/model"
)

// Dedupe collapses POIs of one category that sit closer together than
// radiusKm. Input order does not matter: POIs are sorted by along-track
// position first, then walked once, each POI joining the most recent cluster
// when it lies within the radius of that cluster's anchor. The anchor
// survives, enriched with metadata its cluster members carry and it lacks.
//
// Survivors are at least radiusKm apart, so running Dedupe over its own
// output changes nothing. Every survivor gets a stable identity derived from
// its category, coordinates and cluster position, so repeated requests over
// the same track yield the same IDs.
func Dedupe(pois []model.POI, radiusKm float64) []model.POI {
	sorted := make([]model.POI, len(pois))
	copy(sorted, pois)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DistanceOnRouteKm != sorted[j].DistanceOnRouteKm {
			return sorted[i].DistanceOnRouteKm < sorted[j].DistanceOnRouteKm
		}
		return sorted[i].DistanceToRouteKm < sorted[j].DistanceToRouteKm
	})

	out := make([]model.POI, 0, len(sorted))
	for _, p := range sorted {
		if radiusKm > 0 && len(out) > 0 {
			anchor := &out[len(out)-1]
			d := geo.Distance(
				geo.Point{Lat: anchor.Lat, Lon: anchor.Lon},
				geo.Point{Lat: p.Lat, Lon: p.Lon},
			)
			if d <= radiusKm {
				absorb(anchor, p)
				continue
			}
		}
		out = append(out, p)
	}
	for i := range out {
		out[i].ID = stableID(out[i], i)
	}
	return out
}

// absorb copies metadata from a collapsed cluster member into the anchor
// wherever the anchor has none.
func absorb(anchor *model.POI, member model.POI) {
	if anchor.OpeningHours == "" {
		anchor.OpeningHours = member.OpeningHours
	}
	if anchor.URL == "" {
		anchor.URL = member.URL
	}
	if anchor.PriceRange == "" {
		anchor.PriceRange = member.PriceRange
	}
	if anchor.Brand == "" {
		anchor.Brand = member.Brand
	}
	if anchor.Operator == "" {
		anchor.Operator = member.Operator
	}
	if anchor.Wikipedia == "" {
		anchor.Wikipedia = member.Wikipedia
	}
	if anchor.Wikidata == "" {
		anchor.Wikidata = member.Wikidata
	}
}

// stableID hashes the category, the coordinates rounded to six decimals
// (about 0.1 m) and the position within the deduplicated sequence. Upstream
// element IDs are deliberately not used; they churn when mappers split or
// merge geometry while the place itself stays put.
func stableID(p model.POI, position int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%.6f|%.6f|%d", p.Category, p.Lat, p.Lon, position)
	return fmt.Sprintf("poi_%016x", h.Sum64())
}
