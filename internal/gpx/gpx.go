// Package gpx reads uploaded GPX tracks and writes GPX exports with POI
// waypoints.
package gpx

import (
	"encoding/xml"
	"errors"
	"fmt"

	"mapahead/internal/model"
)

// ErrNoTrackPoints is returned for well-formed GPX without any usable points.
var ErrNoTrackPoints = errors.New("gpx file contains no track points")

type gpxDoc struct {
	Tracks []struct {
		Segments []struct {
			Points []gpxPoint `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
	Routes []struct {
		Points []gpxPoint `xml:"rtept"`
	} `xml:"rte"`
}

type gpxPoint struct {
	Lat float64  `xml:"lat,attr"`
	Lon float64  `xml:"lon,attr"`
	Ele *float64 `xml:"ele"`
}

// Parse extracts the ordered samples of a GPX document. Track points are
// preferred; planned-route points (rtept) are the fallback for files
// exported by planners that never recorded a track.
func Parse(data []byte) ([]model.RoutePoint, error) {
	var doc gpxDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	var points []model.RoutePoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				points = append(points, routePoint(p))
			}
		}
	}
	if len(points) == 0 {
		for _, rte := range doc.Routes {
			for _, p := range rte.Points {
				points = append(points, routePoint(p))
			}
		}
	}
	if len(points) == 0 {
		return nil, ErrNoTrackPoints
	}
	return points, nil
}

func routePoint(p gpxPoint) model.RoutePoint {
	rp := model.RoutePoint{Lat: p.Lat, Lon: p.Lon}
	if p.Ele != nil {
		rp.Elevation = *p.Ele
	}
	return rp
}
