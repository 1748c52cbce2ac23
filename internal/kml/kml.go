// Package kml renders a route and its POIs as a KML document for Google
// Earth and similar viewers.
package kml

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"mapahead/internal/gpx"
	"mapahead/internal/model"
	"mapahead/internal/route"
)

type categoryStyle struct {
	// Color is KML AABBGGRR.
	Color string
	Icon  string
}

var categoryStyles = map[string]categoryStyle{
	"gas_stations":     {"ff4444ff", "http://maps.google.com/mapfiles/kml/shapes/gas_stations.png"},
	"bakeries":         {"ff74a5d4", "http://maps.google.com/mapfiles/kml/shapes/dining.png"},
	"grocery_stores":   {"ff27ae60", "http://maps.google.com/mapfiles/kml/shapes/grocery.png"},
	"public_toilets":   {"ffe2904a", "http://maps.google.com/mapfiles/kml/shapes/toilets.png"},
	"water_fountains":  {"ffdb9834", "http://maps.google.com/mapfiles/kml/shapes/water.png"},
	"bicycle_shops":    {"ff503e2c", "http://maps.google.com/mapfiles/kml/shapes/cycling.png"},
	"bicycle_vending":  {"ffb6599b", "http://maps.google.com/mapfiles/kml/shapes/cycling.png"},
	"vending_machines": {"ff129cf3", "http://maps.google.com/mapfiles/kml/shapes/convenience.png"},
	"camping_hotels":   {"ff85a016", "http://maps.google.com/mapfiles/kml/shapes/lodging.png"},
	"sport_areas":      {"ffad448e", "http://maps.google.com/mapfiles/kml/shapes/play.png"},
}

var categoryName = map[string]string{
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

var categoryShort = map[string]string{
	"gas_stations":     "Gas",
	"bakeries":         "Bakery",
	"grocery_stores":   "Shop",
	"public_toilets":   "WC",
	"water_fountains":  "Water",
	"bicycle_shops":    "Bike",
	"bicycle_vending":  "BikeV",
	"vending_machines": "Vending",
	"camping_hotels":   "Camp",
	"sport_areas":      "Sport",
}

type kmlDoc struct {
	XMLName  xml.Name `xml:"kml"`
	Xmlns    string   `xml:"xmlns,attr"`
	Document document `xml:"Document"`
}

type document struct {
	Name    string   `xml:"name"`
	Styles  []style  `xml:"Style"`
	Folders []folder `xml:"Folder"`
}

type style struct {
	ID        string     `xml:"id,attr"`
	IconStyle *iconStyle `xml:"IconStyle,omitempty"`
	LineStyle *lineStyle `xml:"LineStyle,omitempty"`
}

type iconStyle struct {
	Color string `xml:"color"`
	Scale string `xml:"scale"`
	Icon  icon   `xml:"Icon"`
}

type icon struct {
	Href string `xml:"href"`
}

type lineStyle struct {
	Color string `xml:"color"`
	Width string `xml:"width"`
}

type folder struct {
	Name       string      `xml:"name"`
	Placemarks []placemark `xml:"Placemark"`
}

type placemark struct {
	Name        string      `xml:"name"`
	StyleURL    string      `xml:"styleUrl,omitempty"`
	Description string      `xml:"description,omitempty"`
	LineString  *lineString `xml:"LineString,omitempty"`
	Point       *point      `xml:"Point,omitempty"`
}

type lineString struct {
	Tessellate  int    `xml:"tessellate"`
	Coordinates string `xml:"coordinates"`
}

type point struct {
	Coordinates string `xml:"coordinates"`
}

// Generate writes a KML document with the track as a styled LineString and
// one placemark per POI.
func Generate(ix *route.Index, pois []model.POI, routeName string) ([]byte, error) {
	if routeName == "" {
		routeName = "Route"
	}

	doc := document{Name: routeName + " with POIs"}
	for _, cat := range sortedCategories() {
		cs := categoryStyles[cat]
		doc.Styles = append(doc.Styles, style{
			ID:        "style_" + cat,
			IconStyle: &iconStyle{Color: cs.Color, Scale: "1.0", Icon: icon{Href: cs.Icon}},
		})
	}
	doc.Styles = append(doc.Styles, style{
		ID:        "route_style",
		LineStyle: &lineStyle{Color: "ff00b87f", Width: "4"},
	})

	var coords strings.Builder
	for i, p := range ix.Points() {
		if i > 0 {
			coords.WriteByte(' ')
		}
		coords.WriteString(formatCoord(p.Lon))
		coords.WriteByte(',')
		coords.WriteString(formatCoord(p.Lat))
		coords.WriteByte(',')
		coords.WriteString(formatCoord(p.Elevation))
	}
	doc.Folders = append(doc.Folders, folder{
		Name: "Route",
		Placemarks: []placemark{{
			Name:       routeName,
			StyleURL:   "#route_style",
			LineString: &lineString{Tessellate: 1, Coordinates: coords.String()},
		}},
	})

	if len(pois) > 0 {
		pf := folder{Name: "Points of Interest"}
		for _, poi := range pois {
			pf.Placemarks = append(pf.Placemarks, poiPlacemark(poi))
		}
		doc.Folders = append(doc.Folders, pf)
	}

	out, err := xml.MarshalIndent(kmlDoc{Xmlns: "http://www.opengis.net/kml/2.2", Document: doc}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal kml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func poiPlacemark(poi model.POI) placemark {
	styleURL := "#style_gas_stations"
	if _, ok := categoryStyles[poi.Category]; ok {
		styleURL = "#style_" + poi.Category
	}

	typeName, ok := categoryName[poi.Category]
	if !ok {
		typeName = "POI"
	}
	parts := []string{
		"<b>Type:</b> " + typeName,
		"<b>Distance from route:</b> " + gpx.DistanceLabel(poi.DistanceToRouteKm),
	}
	if poi.OpeningHours != "" {
		parts = append(parts, "<b>Opening hours:</b> "+poi.OpeningHours)
	}
	if poi.PriceRange != "" {
		parts = append(parts, "<b>Price:</b> "+poi.PriceRange)
	}
	if poi.URL != "" {
		parts = append(parts, fmt.Sprintf(`<b>Website:</b> <a href=%q>%s</a>`, poi.URL, poi.URL))
	}
	if poi.MapsLink != "" {
		parts = append(parts, fmt.Sprintf(`<a href=%q>Open in Google Maps</a>`, poi.MapsLink))
	}

	return placemark{
		Name:        placemarkName(poi),
		StyleURL:    styleURL,
		Description: strings.Join(parts, "<br>"),
		Point: &point{Coordinates: fmt.Sprintf("%s,%s,0",
			formatCoord(poi.Lon), formatCoord(poi.Lat))},
	}
}

// placemarkName builds "42km - Gas - Shell (24/7)".
func placemarkName(poi model.POI) string {
	short, ok := categoryShort[poi.Category]
	if !ok {
		short = "POI"
	}
	name := poi.Name
	if len(name) > 20 {
		name = name[:17] + "..."
	}
	base := fmt.Sprintf("%dkm - %s - %s", int(poi.DistanceOnRouteKm+0.5), short, name)
	if hours := shortenOpeningHours(poi.OpeningHours); hours != "" {
		return base + " (" + hours + ")"
	}
	return base
}

var hoursRangeRe = regexp.MustCompile(`(\d{1,2}):\d{2}\s*-\s*(\d{1,2}):\d{2}`)

// shortenOpeningHours condenses an opening_hours value for a placemark name,
// "Mo-Fr 08:00-20:00" becoming "8-20". Values it cannot condense are left
// out entirely.
func shortenOpeningHours(hours string) string {
	if hours == "" {
		return ""
	}
	lower := strings.ToLower(strings.TrimSpace(hours))
	for _, p := range []string{"24/7", "24/24", "always open", "00:00-24:00", "24 hours"} {
		if strings.Contains(lower, p) {
			return "24/7"
		}
	}
	if m := hoursRangeRe.FindStringSubmatch(hours); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%d-%d", start, end)
	}
	return ""
}

func sortedCategories() []string {
	cats := make([]string, 0, len(categoryStyles))
	for c := range categoryStyles {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
