package routes

import (
	"errors"
	"testing"

	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
)

func testRoutes() models.RouteSet {
	rs := models.RouteSet{}
	rs.Put(models.RouteGeometry{Label: "U1", Points: []models.LatLng{{Lat: 52.2892, Lng: -1.5373}, {Lat: 52.3809, Lng: -1.5617}}})
	rs.Put(models.RouteGeometry{Label: "11", Points: []models.LatLng{{Lat: 52.2892, Lng: -1.5373}}})
	return rs
}

func testVehicles() []models.VehicleLocation {
	return []models.VehicleLocation{
		{ServiceID: "a", Route: "U2", Destination: "University of Warwick"},
		{ServiceID: "b", Route: "U1", Destination: "Leamington Spa"},
		{ServiceID: "c", Route: "u1", Destination: "University of Warwick"},
		{ServiceID: "d", Route: "U1", Destination: "University of Warwick Bus Interchange"},
	}
}

func TestResolveRoute_CaseInsensitive(t *testing.T) {
	upper, err := ResolveRoute(testRoutes(), "U1")
	if err != nil {
		t.Fatalf("ResolveRoute(U1): %v", err)
	}
	lower, err := ResolveRoute(testRoutes(), "u1")
	if err != nil {
		t.Fatalf("ResolveRoute(u1): %v", err)
	}
	if upper.Label != lower.Label || len(upper.Points) != len(lower.Points) {
		t.Errorf("u1 and U1 should resolve to the same geometry: %+v vs %+v", upper, lower)
	}

	if _, err := ResolveRoute(testRoutes(), "X5"); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestResolveVehicle(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		hint    string
		wantID  string
		wantHit bool
	}{
		{"first in fetch order", "U1", "", "b", true},
		{"lowercase label", "u1", "", "b", true},
		{"destination hint", "U1", "warwick", "c", true},
		{"hint is case-insensitive", "U1", "INTERCHANGE", "d", true},
		{"hint without match", "U1", "Coventry", "", false},
		{"unknown route", "X5", "", "", false},
		{"other route", "U2", "", "a", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := ResolveVehicle(testVehicles(), tc.label, tc.hint)
			if ok != tc.wantHit {
				t.Fatalf("ResolveVehicle(%q, %q) ok = %v, expected %v", tc.label, tc.hint, ok, tc.wantHit)
			}
			if ok && v.ServiceID != tc.wantID {
				t.Errorf("ResolveVehicle(%q, %q) = %s, expected %s", tc.label, tc.hint, v.ServiceID, tc.wantID)
			}
		})
	}
}

func TestResolveVehicle_Idempotent(t *testing.T) {
	vehicles := testVehicles()
	first, ok1 := ResolveVehicle(vehicles, "U1", "warwick")
	second, ok2 := ResolveVehicle(vehicles, "U1", "warwick")
	if ok1 != ok2 || first.ServiceID != second.ServiceID {
		t.Errorf("repeated resolution differs: %+v vs %+v", first, second)
	}
}

func TestResolve(t *testing.T) {
	t.Run("vehicle with route", func(t *testing.T) {
		target, err := Resolve(testRoutes(), testVehicles(), "u1", "")
		if err != nil {
			t.Fatal(err)
		}
		if target.Vehicle == nil || target.Vehicle.ServiceID != "b" {
			t.Errorf("expected vehicle b, got %+v", target.Vehicle)
		}
		if target.Route == nil || target.Route.Label != "U1" {
			t.Errorf("expected U1 geometry, got %+v", target.Route)
		}
	})

	t.Run("vehicle without geometry", func(t *testing.T) {
		target, err := Resolve(testRoutes(), testVehicles(), "U2", "")
		if err != nil {
			t.Fatal(err)
		}
		if target.Vehicle == nil || target.Route != nil {
			t.Errorf("expected vehicle only, got %+v", target)
		}
	})

	t.Run("falls back to route", func(t *testing.T) {
		target, err := Resolve(testRoutes(), testVehicles(), "11", "")
		if err != nil {
			t.Fatal(err)
		}
		if target.Vehicle != nil || target.Route == nil {
			t.Errorf("expected route only, got %+v", target)
		}
	})

	t.Run("hint misses falls back to route", func(t *testing.T) {
		target, err := Resolve(testRoutes(), testVehicles(), "U1", "Coventry")
		if err != nil {
			t.Fatal(err)
		}
		if target.Vehicle != nil || target.Route == nil {
			t.Errorf("expected route only, got %+v", target)
		}
	})

	t.Run("nothing", func(t *testing.T) {
		if _, err := Resolve(testRoutes(), testVehicles(), "X5", ""); !errors.Is(err, ErrRouteNotFound) {
			t.Errorf("expected ErrRouteNotFound, got %v", err)
		}
	})
}

func TestColorFor_Deterministic(t *testing.T) {
	p := DefaultPalette()

	first := p.ColorFor("U1")
	for i := 0; i < 10; i++ {
		if got := p.ColorFor("U1"); got != first {
			t.Fatalf("ColorFor(U1) changed between calls: %s vs %s", first, got)
		}
	}
	// A fresh palette stands in for a process restart.
	if got := DefaultPalette().ColorFor("U1"); got != first {
		t.Errorf("ColorFor(U1) differs across palettes: %s vs %s", first, got)
	}

	tests := []struct {
		label    string
		expected string
	}{
		{"U1", "#3b82f6"},
		{"u1", "#3b82f6"},
		{"U2", "#8b5cf6"},
		{"11", "#ef4444"},
		{"", "#ef4444"},
	}
	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			if got := p.ColorFor(tc.label); got != tc.expected {
				t.Errorf("ColorFor(%q) = %s, expected %s", tc.label, got, tc.expected)
			}
		})
	}
}
