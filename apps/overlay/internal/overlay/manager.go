// Package overlay owns everything drawn on the transit map and keeps it in
// step with the latest fetched data.
package overlay

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
	"github.com/cormacmadden/life-os/apps/overlay/internal/routes"
	"github.com/cormacmadden/life-os/internal/geo"
)

// ErrNotReady is returned by drawing commands while no engine is attached
var ErrNotReady = errors.New("map engine not ready")

const (
	focusZoom    = 15
	focusPadding = 50
)

var (
	activationLine = lineStyle{weight: 4, opacity: 0.7}
	commandLine    = lineStyle{weight: 5, opacity: 0.8}
)

type lineStyle struct {
	weight  int
	opacity float64
}

// RenderedEntity describes one marker currently on the map
type RenderedEntity struct {
	ID       uuid.UUID
	Kind     EntityKind
	Position models.LatLng
	// Route is the vehicle's route label; empty for other kinds
	Route string
	// Ref is the stop code or vehicle service id
	Ref string
}

type entity struct {
	RenderedEntity
	handle Handle
}

// Manager is the only writer of rendered state. Every change runs to
// completion under mu, so nobody observes a half-cleared map.
type Manager struct {
	palette routes.Palette

	mu        sync.Mutex
	engine    Engine
	stops     []models.Stop
	vehicles  []models.VehicleLocation
	routes    models.RouteSet
	anchors   models.Anchors
	entities  []entity
	highlight []Handle
}

// NewManager creates a manager with no engine attached
func NewManager(palette routes.Palette) *Manager {
	return &Manager{
		palette: palette,
		routes:  models.RouteSet{},
	}
}

// Update changes one input of the manager. It reports whether the markers
// must be rebuilt.
type Update func(m *Manager) bool

// SetStops replaces the stop snapshot
func SetStops(stops []models.Stop) Update {
	return func(m *Manager) bool {
		m.stops = stops
		return true
	}
}

// SetVehicles replaces the live vehicle snapshot
func SetVehicles(vehicles []models.VehicleLocation) Update {
	return func(m *Manager) bool {
		m.vehicles = vehicles
		return true
	}
}

// SetRoutes replaces the route geometries. Markers read routes when they are
// activated, so this never forces a rebuild.
func SetRoutes(rs models.RouteSet) Update {
	return func(m *Manager) bool {
		if rs == nil {
			rs = models.RouteSet{}
		}
		m.routes = rs
		return false
	}
}

// SetAnchors replaces the home/work pins
func SetAnchors(a models.Anchors) Update {
	return func(m *Manager) bool {
		if m.anchors.Equal(a) {
			return false
		}
		m.anchors = a
		return true
	}
}

// Apply applies updates and rebuilds the markers once if any of them requires it
func (m *Manager) Apply(updates ...Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rebuild := false
	for _, u := range updates {
		if u(m) {
			rebuild = true
		}
	}
	if rebuild {
		m.batchLocked(m.reconcileLocked)
	}
}

// Attach hands the manager an engine to draw on and renders the current state
func (m *Manager) Attach(engine Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchLocked(m.clearLocked)
	m.engine = engine
	m.batchLocked(m.reconcileLocked)
}

// Detach removes everything drawn and forgets the engine
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchLocked(m.clearLocked)
	m.engine = nil
}

// Ready reports whether an engine is attached
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine != nil
}

// Entities returns a copy of the rendered entities in draw order
func (m *Manager) Entities() []RenderedEntity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RenderedEntity, len(m.entities))
	for i, e := range m.entities {
		out[i] = e.RenderedEntity
	}
	return out
}

// Counts returns how many stops and vehicles are known
func (m *Manager) Counts() (stops, vehicles int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stops), len(m.vehicles)
}

// FocusRoute replaces the highlight with the static geometry of label and
// fits the map to it. Unknown routes leave the map untouched.
func (m *Manager) FocusRoute(label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return ErrNotReady
	}

	g, err := routes.ResolveRoute(m.routes, label)
	if err != nil {
		log.Printf("Overlay: route %s not found in %v", label, m.routes.Labels())
		return fmt.Errorf("route %s: %w", label, err)
	}

	m.batchLocked(func() {
		m.highlightLocked(commandLine, g)
		if b, ok := geo.BoundsOf(g.Points); ok {
			m.engine.FitBounds(b, focusPadding)
		}
	})

	log.Printf("Overlay: showing route %s with %d points", g.Label, len(g.Points))
	return nil
}

// FocusVehicle shows the first live vehicle on label (optionally heading to a
// destination containing hint): its route is highlighted, the map zooms to it
// and its popup opens. Without a live vehicle the static route is shown instead.
func (m *Manager) FocusVehicle(label, hint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return ErrNotReady
	}

	target, err := routes.Resolve(m.routes, m.vehicles, label, hint)
	if err != nil {
		log.Printf("Overlay: no live bus or route coordinates for %s", strings.ToUpper(label))
		return fmt.Errorf("route %s: %w", label, err)
	}

	if target.Vehicle == nil {
		log.Printf("Overlay: no live bus location for route %s, showing route only", label)
		m.batchLocked(func() {
			m.highlightLocked(commandLine, *target.Route)
			if b, ok := geo.BoundsOf(target.Route.Points); ok {
				m.engine.FitBounds(b, focusPadding)
			}
		})
		return nil
	}

	v := *target.Vehicle
	m.batchLocked(func() {
		if target.Route != nil {
			m.highlightLocked(commandLine, *target.Route)
		}
		m.engine.SetView(v.Position(), focusZoom)

		for _, e := range m.entities {
			if e.Kind == KindVehicle && e.Position == v.Position() && strings.EqualFold(e.Route, v.Route) {
				e.handle.OpenPopup()
				break
			}
		}
	})

	log.Printf("Overlay: showing bus %s at [%f, %f]", v.Route, v.Latitude, v.Longitude)
	return nil
}

// reconcileLocked removes every marker and highlight, then redraws anchors,
// stops and vehicles in that order so pins are not hidden under stop flags.
func (m *Manager) reconcileLocked() {
	m.clearLocked()
	if m.engine == nil {
		return
	}

	for _, a := range m.anchors.List() {
		kind, title := KindHome, "Home"
		if a.Kind == models.AnchorWork {
			kind, title = KindWork, "Work"
		}
		m.addLocked(RenderedEntity{Kind: kind, Position: a.Position}, Marker{
			Kind:     kind,
			Position: a.Position,
			Popup:    Popup{Title: title},
		})
	}

	for _, s := range m.stops {
		m.addLocked(RenderedEntity{Kind: KindStop, Position: s.Position(), Ref: s.Code}, Marker{
			Kind:       KindStop,
			Position:   s.Position(),
			Popup:      Popup{Title: s.Name, Lines: []string{s.Locality}, Hint: "Click to show bus routes"},
			OnActivate: m.activateStop,
		})
	}

	for _, v := range m.vehicles {
		route := v.Route
		lines := []string{"To: " + v.Destination}
		if ts, ok := v.UpdatedAt(); ok {
			lines = append(lines, "Updated: "+ts.Local().Format("15:04:05"))
		}
		m.addLocked(RenderedEntity{Kind: KindVehicle, Position: v.Position(), Route: route, Ref: v.ServiceID}, Marker{
			Kind:       KindVehicle,
			Position:   v.Position(),
			Label:      route,
			Bearing:    v.Bearing,
			Popup:      Popup{Title: "Bus " + route, Lines: lines, Hint: "Click bus to show route"},
			OnActivate: func() { m.activateVehicle(route) },
		})
	}
}

// batchLocked runs fn as one engine change. Without an engine fn only updates
// the manager's own bookkeeping.
func (m *Manager) batchLocked(fn func()) {
	if m.engine == nil {
		fn()
		return
	}
	m.engine.Batch(fn)
}

func (m *Manager) addLocked(re RenderedEntity, mk Marker) {
	re.ID = uuid.New()
	m.entities = append(m.entities, entity{RenderedEntity: re, handle: m.engine.AddMarker(mk)})
}

func (m *Manager) clearLocked() {
	for _, e := range m.entities {
		e.handle.Remove()
	}
	m.entities = nil
	m.clearHighlightLocked()
}

func (m *Manager) clearHighlightLocked() {
	for _, h := range m.highlight {
		h.Remove()
	}
	m.highlight = nil
}

// highlightLocked replaces the active highlight with the given routes
func (m *Manager) highlightLocked(style lineStyle, gs ...models.RouteGeometry) {
	m.clearHighlightLocked()
	for _, g := range gs {
		m.highlight = append(m.highlight, m.engine.AddPolyline(Polyline{
			Route:   g.Label,
			Points:  g.Points,
			Color:   m.palette.ColorFor(g.Label),
			Weight:  style.weight,
			Opacity: style.opacity,
		}))
	}
}

// activateStop draws every known route
func (m *Manager) activateStop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return
	}
	m.batchLocked(func() {
		m.highlightLocked(activationLine, m.routes.Sorted()...)
	})
}

// activateVehicle draws only the vehicle's own route, if known
func (m *Manager) activateVehicle(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return
	}
	m.batchLocked(func() {
		m.clearHighlightLocked()
		if g, ok := m.routes.Get(route); ok && len(g.Points) > 0 {
			m.highlightLocked(activationLine, g)
		}
	})
}
