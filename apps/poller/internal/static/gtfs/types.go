package gtfs

// Data holds the parts of a GTFS static feed the poller imports
type Data struct {
	Agencies map[string]string // agency_id -> agency_name
	Routes   []Route
	Stops    []Stop
	Trips    []Trip
	Shapes   map[string][]ShapePoint // keyed by shape_id, sorted by sequence
}

// Route represents a route from routes.txt
type Route struct {
	RouteID        string
	AgencyID       string
	RouteShortName string
	RouteLongName  string
	RouteType      int
}

// Label returns the public route number, falling back to the long name
func (r Route) Label() string {
	if r.RouteShortName != "" {
		return r.RouteShortName
	}
	return r.RouteLongName
}

// Stop represents a stop from stops.txt. For UK feeds stop_id is the ATCO code
// and stop_code the NaPTAN SMS code.
type Stop struct {
	StopID       string
	StopCode     string
	StopName     string
	PlatformCode string
	StopLat      float64
	StopLon      float64
	LocationType int
}

// Trip represents a trip from trips.txt
type Trip struct {
	RouteID      string
	TripID       string
	TripHeadsign string
	DirectionID  int
	ShapeID      string
}

// ShapePoint represents a point from shapes.txt
type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
}
