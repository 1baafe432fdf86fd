// Package models holds the overlay's view of the transit backend's data.
package models

import (
	"sort"
	"strings"
	"time"

	"github.com/cormacmadden/life-os/internal/geo"
)

// LatLng is a position in (latitude, longitude) order.
type LatLng = geo.Point

// StopType tags a stop with the commute leg it belongs to
type StopType string

const (
	StopMorning StopType = "morning"
	StopEvening StopType = "evening"
)

// Stop is a configured bus stop as returned by GET /api/bus/stops
type Stop struct {
	Code      string   `json:"atco_code"`
	Name      string   `json:"name"`
	Locality  string   `json:"locality"`
	Indicator string   `json:"indicator"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Type      StopType `json:"type"`
}

// Position returns the stop's coordinates
func (s Stop) Position() LatLng {
	return LatLng{Lat: s.Latitude, Lng: s.Longitude}
}

// VehicleLocation is a live vehicle as returned by GET /api/bus/locations
type VehicleLocation struct {
	ServiceID   string   `json:"service_id"`
	Operator    string   `json:"operator"`
	Route       string   `json:"route"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Bearing     *float64 `json:"bearing"`
	Destination string   `json:"destination"`
	LastUpdated string   `json:"last_updated"`
}

// Position returns the vehicle's coordinates
func (v VehicleLocation) Position() LatLng {
	return LatLng{Lat: v.Latitude, Lng: v.Longitude}
}

// UpdatedAt parses LastUpdated. ok is false when the backend sent nothing usable.
func (v VehicleLocation) UpdatedAt() (t time.Time, ok bool) {
	if v.LastUpdated == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v.LastUpdated)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RouteGeometry is a route's path flattened into a single polyline
type RouteGeometry struct {
	Label    string
	Operator string
	Points   []LatLng
}

// RouteSet maps route labels to geometries. Keys are upper-cased so that
// lookups are case-insensitive.
type RouteSet map[string]RouteGeometry

// RouteKey normalises a route label for RouteSet lookups.
func RouteKey(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}

// Put stores g under its normalised label.
func (rs RouteSet) Put(g RouteGeometry) {
	rs[RouteKey(g.Label)] = g
}

// Get looks a route up case-insensitively.
func (rs RouteSet) Get(label string) (RouteGeometry, bool) {
	g, ok := rs[RouteKey(label)]
	return g, ok
}

// Labels returns the stored labels in sorted order
func (rs RouteSet) Labels() []string {
	labels := make([]string, 0, len(rs))
	for _, g := range rs {
		labels = append(labels, g.Label)
	}
	sort.Strings(labels)
	return labels
}

// Sorted returns the geometries ordered by label
func (rs RouteSet) Sorted() []RouteGeometry {
	out := make([]RouteGeometry, 0, len(rs))
	for _, g := range rs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// AnchorKind distinguishes the two user-configured pins
type AnchorKind string

const (
	AnchorHome AnchorKind = "home"
	AnchorWork AnchorKind = "work"
)

// Anchor is a fixed home or work coordinate
type Anchor struct {
	Kind     AnchorKind
	Position LatLng
}

// Anchors holds at most one anchor of each kind
type Anchors struct {
	Home *Anchor
	Work *Anchor
}

// List returns the present anchors, home first
func (a Anchors) List() []Anchor {
	var out []Anchor
	if a.Home != nil {
		out = append(out, *a.Home)
	}
	if a.Work != nil {
		out = append(out, *a.Work)
	}
	return out
}

// Equal reports whether both anchor sets describe the same pins
func (a Anchors) Equal(b Anchors) bool {
	return anchorEqual(a.Home, b.Home) && anchorEqual(a.Work, b.Work)
}

func anchorEqual(a, b *Anchor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
