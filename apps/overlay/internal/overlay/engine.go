package overlay

import (
	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
	"github.com/cormacmadden/life-os/internal/geo"
)

// EntityKind identifies what a marker stands for
type EntityKind string

const (
	KindHome    EntityKind = "home"
	KindWork    EntityKind = "work"
	KindStop    EntityKind = "stop"
	KindVehicle EntityKind = "vehicle"
)

// Popup is the text shown when a marker is opened
type Popup struct {
	Title string   `json:"title"`
	Lines []string `json:"lines,omitempty"`
	Hint  string   `json:"hint,omitempty"`
}

// Marker describes a pin to draw
type Marker struct {
	Kind     EntityKind
	Position models.LatLng
	// Label is drawn on the pin itself (the route on vehicle badges)
	Label   string
	Bearing *float64
	Popup   Popup
	// OnActivate runs when the user clicks or taps the marker. The engine must
	// not hold its own locks while calling it.
	OnActivate func()
}

// Polyline describes a route line to draw
type Polyline struct {
	Route   string
	Points  []models.LatLng
	Color   string
	Weight  int
	Opacity float64
}

// Handle is a live drawn object
type Handle interface {
	Remove()
	OpenPopup()
}

// Engine is the map runtime the overlay draws on
type Engine interface {
	// Batch runs fn and presents everything it drew or removed to viewers as
	// a single change. Viewers never observe the intermediate states.
	Batch(fn func())
	AddMarker(m Marker) Handle
	AddPolyline(p Polyline) Handle
	SetView(center models.LatLng, zoom int)
	FitBounds(b geo.Bounds, padding int)
}
