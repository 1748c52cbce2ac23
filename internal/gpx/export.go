package gpx

import (
	"encoding/xml"
	"fmt"
	"strings"

	"mapahead/internal/geo"
	"mapahead/internal/model"
	"mapahead/internal/route"
)

// Waypoint symbols understood by Garmin Connect, RideWithGPS and friends.
var categorySymbol = map[string]string{
	"gas_stations":     "Fuel",
	"bakeries":         "Food",
	"grocery_stores":   "Food",
	"public_toilets":   "Restroom",
	"water_fountains":  "Water",
	"bicycle_shops":    "Bike Trail",
	"bicycle_vending":  "Bike Trail",
	"vending_machines": "Food",
	"camping_hotels":   "Campground",
	"sport_areas":      "Stadium",
}

var categoryType = map[string]string{
	"gas_stations":     "Gas Station",
	"bakeries":         "Bakery",
	"grocery_stores":   "Grocery Store",
	"public_toilets":   "Toilet",
	"water_fountains":  "Water Fountain",
	"bicycle_shops":    "Bicycle Shop",
	"bicycle_vending":  "Bicycle Vending",
	"vending_machines": "Vending Machine",
	"camping_hotels":   "Accommodation",
	"sport_areas":      "Sport Area",
}

// Short labels that leave room for a name inside the 15-character limit
// Garmin devices impose on waypoint names.
var categoryShort = map[string]string{
	"gas_stations":     "Gas",
	"bakeries":         "Bakery",
	"grocery_stores":   "Shop",
	"public_toilets":   "WC",
	"water_fountains":  "Water",
	"bicycle_shops":    "Bike",
	"bicycle_vending":  "BikeV",
	"vending_machines": "Vend",
	"camping_hotels":   "Camp",
	"sport_areas":      "Sport",
}

const garminNameLimit = 15

type gpxExport struct {
	XMLName   xml.Name   `xml:"gpx"`
	Version   string     `xml:"version,attr"`
	Creator   string     `xml:"creator,attr"`
	Xmlns     string     `xml:"xmlns,attr"`
	Waypoints []waypoint `xml:"wpt"`
	Tracks    []track    `xml:"trk"`
}

type waypoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Name string  `xml:"name"`
	Cmt  string  `xml:"cmt,omitempty"`
	Desc string  `xml:"desc,omitempty"`
	Link *link   `xml:"link,omitempty"`
	Sym  string  `xml:"sym,omitempty"`
	Type string  `xml:"type,omitempty"`
}

type link struct {
	Href string `xml:"href,attr"`
}

type track struct {
	Name     string     `xml:"name,omitempty"`
	Segments []segment  `xml:"trkseg"`
}

type segment struct {
	Points []trackPoint `xml:"trkpt"`
}

type trackPoint struct {
	Lat float64  `xml:"lat,attr"`
	Lon float64  `xml:"lon,attr"`
	Ele *float64 `xml:"ele,omitempty"`
}

// Generate writes a GPX document carrying the track and one waypoint per
// POI. With garmin set, waypoints snap onto the track itself so devices
// that alert on approaching waypoints fire at the right moment; otherwise
// they keep the POI's own location.
func Generate(ix *route.Index, pois []model.POI, name string, garmin bool) ([]byte, error) {
	pts := ix.Points()
	seg := segment{Points: make([]trackPoint, len(pts))}
	for i, p := range pts {
		tp := trackPoint{Lat: p.Lat, Lon: p.Lon}
		if p.Elevation != 0 {
			ele := p.Elevation
			tp.Ele = &ele
		}
		seg.Points[i] = tp
	}

	doc := gpxExport{
		Version:   "1.1",
		Creator:   "mapahead",
		Xmlns:     "http://www.topografix.com/GPX/1/1",
		Waypoints: make([]waypoint, 0, len(pois)),
		Tracks:    []track{{Name: name, Segments: []segment{seg}}},
	}
	for _, poi := range pois {
		doc.Waypoints = append(doc.Waypoints, buildWaypoint(ix, poi, garmin))
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal gpx: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func buildWaypoint(ix *route.Index, poi model.POI, garmin bool) waypoint {
	sym, ok := categorySymbol[poi.Category]
	if !ok {
		sym = "Flag"
	}
	wptType, ok := categoryType[poi.Category]
	if !ok {
		wptType = "Waypoint"
	}

	lat, lon := poi.Lat, poi.Lon
	if garmin {
		m := ix.Nearest(geo.Point{Lat: poi.Lat, Lon: poi.Lon})
		if m.SegmentIndex >= 0 {
			lat, lon = m.Closest.Lat, m.Closest.Lon
		}
	}

	w := waypoint{
		Lat:  lat,
		Lon:  lon,
		Name: waypointName(poi),
		Cmt:  waypointComment(poi, wptType),
		Desc: waypointDescription(poi),
		Sym:  sym,
		Type: wptType,
	}
	if poi.URL != "" {
		w.Link = &link{Href: poi.URL}
	}
	return w
}

// waypointName builds "42 WC Name", truncated to the Garmin limit.
func waypointName(poi model.POI) string {
	short, ok := categoryShort[poi.Category]
	if !ok {
		short = "POI"
	}
	km := int(poi.DistanceOnRouteKm + 0.5)
	prefix := fmt.Sprintf("%d %s ", km, short)
	if remaining := garminNameLimit - len(prefix); remaining > 0 {
		name := poi.Name
		if len(name) > remaining {
			name = name[:remaining]
		}
		return strings.TrimSpace(prefix + name)
	}
	s := fmt.Sprintf("%d %s", km, short)
	if len(s) > garminNameLimit {
		s = s[:garminNameLimit]
	}
	return s
}

func waypointComment(poi model.POI, wptType string) string {
	parts := []string{fmt.Sprintf("km %.1f", poi.DistanceOnRouteKm), wptType, poi.Name}
	if poi.OpeningHours != "" {
		parts = append(parts, poi.OpeningHours)
	}
	return strings.Join(parts, " | ")
}

func waypointDescription(poi model.POI) string {
	parts := []string{"Away: " + DistanceLabel(poi.DistanceToRouteKm)}
	switch {
	case poi.Brand != "":
		parts = append(parts, "Brand: "+poi.Brand)
	case poi.Operator != "":
		parts = append(parts, "Operator: "+poi.Operator)
	}
	if poi.PriceRange != "" {
		parts = append(parts, "Price: "+poi.PriceRange)
	}
	return strings.Join(parts, " | ")
}

// DistanceLabel renders an off-route distance in meters up to 1.5 km and in
// kilometers beyond that.
func DistanceLabel(km float64) string {
	m := int(km * 1000)
	if m > 1500 {
		return fmt.Sprintf("%.1f km", km)
	}
	return fmt.Sprintf("%d m", m)
}
