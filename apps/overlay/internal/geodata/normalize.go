package geodata

import (
	"encoding/json"

	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
)

// routeRecord is one entry of GET /api/bus/routes. The backend sends either
// GeoJSON geometries ([lon, lat] pairs) or a plain fallback coordinate list
// ([lat, lon] pairs).
type routeRecord struct {
	Route       string      `json:"route"`
	Operator    string      `json:"operator"`
	Geometries  []geometry  `json:"geometries"`
	Coordinates [][]float64 `json:"coordinates"`
	Description string      `json:"description,omitempty"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// normalizeRoute flattens a record into a single (lat, lon) polyline.
// ok is false when the record yields no points.
func normalizeRoute(rec routeRecord) (models.RouteGeometry, bool) {
	g := models.RouteGeometry{Label: rec.Route, Operator: rec.Operator}
	if rec.Route == "" {
		return g, false
	}

	if len(rec.Geometries) > 0 {
		for _, geom := range rec.Geometries {
			g.Points = append(g.Points, geometryPoints(geom)...)
		}
	} else {
		for _, c := range rec.Coordinates {
			if len(c) < 2 {
				continue
			}
			g.Points = append(g.Points, models.LatLng{Lat: c[0], Lng: c[1]})
		}
	}

	return g, len(g.Points) > 0
}

// geometryPoints returns a GeoJSON line's points swapped to (lat, lon)
func geometryPoints(geom geometry) []models.LatLng {
	var lines [][][]float64

	switch geom.Type {
	case "LineString":
		var line [][]float64
		if err := json.Unmarshal(geom.Coordinates, &line); err != nil {
			return nil
		}
		lines = append(lines, line)
	case "MultiLineString":
		if err := json.Unmarshal(geom.Coordinates, &lines); err != nil {
			return nil
		}
	default:
		return nil
	}

	var points []models.LatLng
	for _, line := range lines {
		for _, c := range line {
			if len(c) < 2 {
				continue
			}
			points = append(points, models.LatLng{Lat: c[1], Lng: c[0]})
		}
	}
	return points
}

// userConfig is the subset of GET /api/user/config the overlay reads
type userConfig struct {
	HomeLatitude  *float64 `json:"home_latitude"`
	HomeLongitude *float64 `json:"home_longitude"`
	WorkLatitude  *float64 `json:"work_latitude"`
	WorkLongitude *float64 `json:"work_longitude"`
}

// anchors converts the config into pins. A missing or zero coordinate means
// the pin is not configured.
func (c userConfig) anchors() models.Anchors {
	var a models.Anchors
	if p, ok := coordinate(c.HomeLatitude, c.HomeLongitude); ok {
		a.Home = &models.Anchor{Kind: models.AnchorHome, Position: p}
	}
	if p, ok := coordinate(c.WorkLatitude, c.WorkLongitude); ok {
		a.Work = &models.Anchor{Kind: models.AnchorWork, Position: p}
	}
	return a
}

func coordinate(lat, lng *float64) (models.LatLng, bool) {
	if lat == nil || lng == nil || *lat == 0 || *lng == 0 {
		return models.LatLng{}, false
	}
	return models.LatLng{Lat: *lat, Lng: *lng}, true
}
