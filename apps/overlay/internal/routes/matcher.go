// Package routes resolves route labels and destination hints against the
// overlay's current geometry and live vehicle snapshot.
package routes

import (
	"errors"
	"strings"

	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
)

// ErrRouteNotFound is returned when neither a live vehicle nor a geometry matches
var ErrRouteNotFound = errors.New("route not found")

// ResolveRoute finds a route geometry by exact, case-insensitive label
func ResolveRoute(routes models.RouteSet, label string) (models.RouteGeometry, error) {
	g, ok := routes.Get(label)
	if !ok || len(g.Points) == 0 {
		return models.RouteGeometry{}, ErrRouteNotFound
	}
	return g, nil
}

// ResolveVehicle returns the first vehicle, in fetch order, whose route equals
// label (case-insensitive) and, when hint is non-empty, whose destination
// contains hint (case-insensitive).
func ResolveVehicle(vehicles []models.VehicleLocation, label, hint string) (models.VehicleLocation, bool) {
	label = strings.TrimSpace(label)
	hint = strings.ToLower(strings.TrimSpace(hint))

	for _, v := range vehicles {
		if !strings.EqualFold(strings.TrimSpace(v.Route), label) {
			continue
		}
		if hint != "" && !strings.Contains(strings.ToLower(v.Destination), hint) {
			continue
		}
		return v, true
	}
	return models.VehicleLocation{}, false
}

// Target is what a "show bus" command should put on the map
type Target struct {
	// Vehicle is set when a live vehicle matched
	Vehicle *models.VehicleLocation
	// Route is set when the route's geometry is known
	Route *models.RouteGeometry
}

// Resolve prefers a live vehicle (with its route's geometry when known) and
// falls back to the static route geometry alone.
func Resolve(routes models.RouteSet, vehicles []models.VehicleLocation, label, hint string) (Target, error) {
	var t Target

	if g, err := ResolveRoute(routes, label); err == nil {
		t.Route = &g
	}

	if v, ok := ResolveVehicle(vehicles, label, hint); ok {
		t.Vehicle = &v
		return t, nil
	}

	if t.Route == nil {
		return Target{}, ErrRouteNotFound
	}
	return t, nil
}
