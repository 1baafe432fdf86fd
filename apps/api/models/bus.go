package models

import "strings"

const (
	StopTypeMorning = "morning"
	StopTypeEvening = "evening"
)

// BusStop is a stop as served by /api/bus/stops and /api/bus/stops/search
type BusStop struct {
	AtcoCode  string  `json:"atco_code"`
	Name      string  `json:"name"`
	Indicator string  `json:"indicator"`
	Locality  string  `json:"locality"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Type      string  `json:"type,omitempty"`
	// Distance in metres, only set by search
	Distance *float64 `json:"distance,omitempty"`
}

// BusLocation is one live vehicle from bus_vehicle_current
type BusLocation struct {
	ServiceID   string   `json:"service_id"`
	Operator    string   `json:"operator"`
	Route       string   `json:"route"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Bearing     *float64 `json:"bearing"`
	Destination string   `json:"destination"`
	LastUpdated string   `json:"last_updated"`
}

// Geometry is a GeoJSON LineString. Coordinates are [lon, lat].
type Geometry struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// BusRoute is one route record of /api/bus/routes. Stored routes carry
// Geometries; built-in approximations carry Coordinates in [lat, lon] order.
type BusRoute struct {
	Route       string       `json:"route"`
	Operator    string       `json:"operator"`
	Geometries  []Geometry   `json:"geometries,omitempty"`
	Coordinates [][2]float64 `json:"coordinates,omitempty"`
	Source      string       `json:"source,omitempty"`
}

// RouteSegments maps a route label to its stored segments
type RouteSegments map[string]StoredRoute

// StoredRoute is a route's geometry as persisted by the poller
type StoredRoute struct {
	Label    string
	Operator string
	Segments [][][2]float64
}

// FallbackRoutes returns approximate Leamington Spa to Warwick University
// paths used when no geometry has been imported yet
func FallbackRoutes() []BusRoute {
	return []BusRoute{
		{
			Route:    "U1",
			Operator: "SCNH",
			Coordinates: [][2]float64{
				{52.2892, -1.5373}, {52.2916, -1.5389}, {52.3000, -1.5450},
				{52.3200, -1.5500}, {52.3500, -1.5550}, {52.3809, -1.5617},
			},
		},
		{
			Route:    "U2",
			Operator: "SCNH",
			Coordinates: [][2]float64{
				{52.2892, -1.5373}, {52.2916, -1.5389}, {52.3000, -1.5420},
				{52.3250, -1.5480}, {52.3550, -1.5530}, {52.3809, -1.5617},
			},
		},
		{
			Route:    "11",
			Operator: "SCNH",
			Coordinates: [][2]float64{
				{52.2892, -1.5373}, {52.2950, -1.5400}, {52.3100, -1.5500},
				{52.3471, -1.5667}, {52.3600, -1.5650}, {52.3750, -1.5600}, {52.3809, -1.5617},
			},
		},
	}
}

// FallbackRoute looks up a built-in route by label
func FallbackRoute(label string) (BusRoute, bool) {
	for _, r := range FallbackRoutes() {
		if strings.EqualFold(r.Route, label) {
			return r, true
		}
	}
	return BusRoute{}, false
}
