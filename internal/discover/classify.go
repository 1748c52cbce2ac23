package discover

import (
	"mapahead/internal/geo"
	"mapahead/internal/metrics"
	"mapahead/internal/model"
	"mapahead/internal/route"
)

// Classify measures a candidate against the track. It returns the resulting
// POI and true when the candidate lies within maxDeviationKm of the nearest
// segment, annotated with both the deviation and the along-track position.
func Classify(cand model.Candidate, ix *route.Index, maxDeviationKm float64) (model.POI, bool) {
	m := ix.Nearest(geo.Point{Lat: cand.Lat, Lon: cand.Lon})
	if m.SegmentIndex < 0 || m.DistanceKm > maxDeviationKm {
		return model.POI{}, false
	}
	metrics.POIsClassified.WithLabelValues(cand.Category).Inc()
	return model.POI{
		Lat:               cand.Lat,
		Lon:               cand.Lon,
		Name:              cand.Name,
		Category:          cand.Category,
		DistanceToRouteKm: m.DistanceKm,
		DistanceOnRouteKm: m.OnRouteKm,
		OpeningHours:      cand.OpeningHours,
		URL:               cand.URL,
		MapsLink:          cand.MapsLink,
		PriceRange:        cand.PriceRange,
		Brand:             cand.Brand,
		Operator:          cand.Operator,
		Wikipedia:         cand.Wikipedia,
		Wikidata:          cand.Wikidata,
	}, true
}
