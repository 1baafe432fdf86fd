// Package geo holds the small amount of spherical geometry shared by the
// backend, the poller and the overlay.
package geo

import "math"

const earthRadiusMeters = 6371000

// Point is a WGS84 position in (latitude, longitude) order.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the WGS84 ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Haversine calculates the distance between two points in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Distance is Haversine over two Points.
func Distance(a, b Point) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Bearing calculates the bearing from point 1 to point 2 in degrees (0-360)
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	x := math.Sin(deltaLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// Bounds is the axis-aligned box enclosing a set of points.
type Bounds struct {
	SouthWest Point `json:"southWest"`
	NorthEast Point `json:"northEast"`
}

// BoundsOf returns the bounding box of points. ok is false for an empty slice.
func BoundsOf(points []Point) (b Bounds, ok bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b.SouthWest, b.NorthEast = points[0], points[0]
	for _, p := range points[1:] {
		b.SouthWest.Lat = math.Min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lng = math.Min(b.SouthWest.Lng, p.Lng)
		b.NorthEast.Lat = math.Max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lng = math.Max(b.NorthEast.Lng, p.Lng)
	}
	return b, true
}

// LineLength calculates the total length of a polyline in meters
func LineLength(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}
