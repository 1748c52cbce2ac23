package model

// Core domain types shared across the route index, discovery pipeline and API.

// RoutePoint is one geographic sample of an uploaded track. DistanceKm is
// the cumulative distance from the track start and is filled in when the
// route index is built; points are immutable afterwards.
type RoutePoint struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Elevation  float64 `json:"elevation,omitempty"`
	DistanceKm float64 `json:"distanceKm"`
}

// CategorySettings are the per-category knobs of a discovery request.
type CategorySettings struct {
	MaxDeviationKm float64 `json:"maxDeviationKm"`
	DedupRadiusKm  float64 `json:"dedupRadiusKm"`
}

// DefaultCategorySettings mirrors the upstream defaults of 1 km for both the
// deviation threshold and the deduplication radius.
var DefaultCategorySettings = CategorySettings{MaxDeviationKm: 1.0, DedupRadiusKm: 1.0}

// Candidate is a raw geodata record for one category, before any
// classification against a route. It only lives for the duration of a
// discovery request.
type Candidate struct {
	Lat      float64
	Lon      float64
	Name     string
	Category string

	OpeningHours string
	URL          string
	MapsLink     string
	PriceRange   string
	Brand        string
	Operator     string
	Wikipedia    string
	Wikidata     string

	// Tags carries the remaining upstream key/value pairs untouched.
	Tags map[string]string
}

// POI is a candidate that survived classification. DistanceToRouteKm is the
// perpendicular-style distance to the nearest track segment and
// DistanceOnRouteKm the along-track position of that nearest point. ID is
// empty until deduplication assigns a stable, content-derived identity.
type POI struct {
	ID                string  `json:"id,omitempty"`
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	DistanceToRouteKm float64 `json:"distanceToRouteKm"`
	DistanceOnRouteKm float64 `json:"distanceOnRouteKm"`

	OpeningHours string `json:"openingHours,omitempty"`
	URL          string `json:"url,omitempty"`
	MapsLink     string `json:"mapsLink,omitempty"`
	PriceRange   string `json:"priceRange,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Operator     string `json:"operator,omitempty"`
	Wikipedia    string `json:"wikipedia,omitempty"`
	Wikidata     string `json:"wikidata,omitempty"`
}

// ElevationSample is one entry of the upload summary's elevation profile.
type ElevationSample struct {
	DistanceKm float64 `json:"distance"`
	Elevation  float64 `json:"elevation"`
}

// RouteSummary is returned after an upload and on route lookups.
type RouteSummary struct {
	RouteID          string            `json:"routeId"`
	Filename         string            `json:"filename,omitempty"`
	Coordinates      []RoutePoint      `json:"coordinates"`
	ElevationProfile []ElevationSample `json:"elevationProfile"`
	TotalDistanceKm  float64           `json:"totalDistance"`
}
