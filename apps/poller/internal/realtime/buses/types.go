package buses

import "time"

// feedVehicle is a vehicle position as decoded from the GTFS-RT feed, before
// it is matched against the timetable
type feedVehicle struct {
	VehicleKey string
	VehicleID  string
	TripID     *string
	RouteID    *string
	Latitude   float64
	Longitude  float64
	Bearing    *float64
	Timestamp  *time.Time
}

// routeFilter matches route labels case-insensitively. An empty filter
// matches everything.
type routeFilter map[string]struct{}
