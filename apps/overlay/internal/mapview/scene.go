// Package mapview is the headless map engine behind the overlay. It keeps
// the drawn layers in memory and streams them to browser clients, which do
// the actual tile rendering with the downloaded map runtime.
package mapview

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
	"github.com/cormacmadden/life-os/apps/overlay/internal/overlay"
	"github.com/cormacmadden/life-os/internal/geo"
)

// LayerType is the drawing primitive of a layer
type LayerType string

const (
	LayerMarker   LayerType = "marker"
	LayerPolyline LayerType = "polyline"
)

// Layer is one drawn object as sent to clients
type Layer struct {
	ID   string    `json:"id"`
	Type LayerType `json:"type"`

	// marker fields
	Kind        overlay.EntityKind `json:"kind,omitempty"`
	Position    *models.LatLng     `json:"position,omitempty"`
	Label       string             `json:"label,omitempty"`
	Bearing     *float64           `json:"bearing,omitempty"`
	Popup       *overlay.Popup     `json:"popup,omitempty"`
	Activatable bool               `json:"activatable,omitempty"`

	// polyline fields
	Route   string          `json:"route,omitempty"`
	Points  []models.LatLng `json:"points,omitempty"`
	Color   string          `json:"color,omitempty"`
	Weight  int             `json:"weight,omitempty"`
	Opacity float64         `json:"opacity,omitempty"`

	activate func()
}

// View is the last camera instruction. Exactly one of Center or Bounds is set
// once the map has been positioned.
type View struct {
	Center  *models.LatLng `json:"center,omitempty"`
	Zoom    int            `json:"zoom,omitempty"`
	Bounds  *geo.Bounds    `json:"bounds,omitempty"`
	Padding int            `json:"padding,omitempty"`
}

// Snapshot is the full scene at one version. Broadcasts may arrive out of
// order; clients keep the highest version they have seen.
type Snapshot struct {
	Version uint64  `json:"version"`
	View    View    `json:"view"`
	Layers  []Layer `json:"layers"`
	// OpenPopup is the id of the marker whose popup was last opened
	OpenPopup string `json:"openPopup,omitempty"`
}

// Scene implements overlay.Engine. A mutation outside a batch, or the end of
// the outermost batch, bumps the version, publishes the snapshot and notifies
// subscribers outside the lock. Readers only ever see published snapshots.
type Scene struct {
	mu        sync.Mutex
	version   uint64
	view      View
	layers    []*Layer
	openPopup string
	subs      []func(Snapshot)

	// depth counts open batches; dirty records a change made inside one
	depth     int
	dirty     bool
	published Snapshot
}

// NewScene creates an empty scene positioned on initial
func NewScene(initial geo.Bounds, padding int) *Scene {
	s := &Scene{view: View{Bounds: &initial, Padding: padding}}
	s.published = s.snapshotLocked()
	return s
}

// Subscribe registers fn to receive every new snapshot
func (s *Scene) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Snapshot returns the last published scene. Changes inside an open batch
// are not visible until the batch ends.
func (s *Scene) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.published
	snap.Layers = append([]Layer(nil), s.published.Layers...)
	return snap
}

// Batch implements overlay.Engine. Batches nest; only the outermost one
// publishes, and only if something changed.
func (s *Scene) Batch(fn func()) {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.depth--
		if s.depth > 0 || !s.dirty {
			s.mu.Unlock()
			return
		}
		s.publishLocked()
	}()

	fn()
}

func (s *Scene) snapshotLocked() Snapshot {
	layers := make([]Layer, len(s.layers))
	for i, l := range s.layers {
		layers[i] = *l
	}
	return Snapshot{Version: s.version, View: s.view, Layers: layers, OpenPopup: s.openPopup}
}

// AddMarker implements overlay.Engine
func (s *Scene) AddMarker(m overlay.Marker) overlay.Handle {
	pos := m.Position
	popup := m.Popup
	return s.add(&Layer{
		Type:        LayerMarker,
		Kind:        m.Kind,
		Position:    &pos,
		Label:       m.Label,
		Bearing:     m.Bearing,
		Popup:       &popup,
		Activatable: m.OnActivate != nil,
		activate:    m.OnActivate,
	})
}

// AddPolyline implements overlay.Engine
func (s *Scene) AddPolyline(p overlay.Polyline) overlay.Handle {
	return s.add(&Layer{
		Type:    LayerPolyline,
		Route:   p.Route,
		Points:  p.Points,
		Color:   p.Color,
		Weight:  p.Weight,
		Opacity: p.Opacity,
	})
}

// SetView implements overlay.Engine
func (s *Scene) SetView(center models.LatLng, zoom int) {
	s.mutate(func() bool {
		s.view = View{Center: &center, Zoom: zoom}
		return true
	})
}

// FitBounds implements overlay.Engine
func (s *Scene) FitBounds(b geo.Bounds, padding int) {
	s.mutate(func() bool {
		s.view = View{Bounds: &b, Padding: padding}
		return true
	})
}

// Activate runs the click handler of layer id. It reports false for unknown
// or inert layers.
func (s *Scene) Activate(id string) bool {
	s.mu.Lock()
	var fn func()
	for _, l := range s.layers {
		if l.ID == id {
			fn = l.activate
			break
		}
	}
	s.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

func (s *Scene) add(l *Layer) overlay.Handle {
	l.ID = uuid.NewString()
	s.mutate(func() bool {
		s.layers = append(s.layers, l)
		return true
	})
	return &handle{scene: s, id: l.ID}
}

func (s *Scene) remove(id string) {
	s.mutate(func() bool {
		for i, l := range s.layers {
			if l.ID == id {
				s.layers = append(s.layers[:i], s.layers[i+1:]...)
				if s.openPopup == id {
					s.openPopup = ""
				}
				return true
			}
		}
		return false
	})
}

func (s *Scene) open(id string) {
	s.mutate(func() bool {
		for _, l := range s.layers {
			if l.ID == id {
				s.openPopup = id
				return true
			}
		}
		return false
	})
}

func (s *Scene) mutate(fn func() bool) {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return
	}
	if s.depth > 0 {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.publishLocked()
}

// publishLocked bumps the version and notifies subscribers. It is entered
// with s.mu held and releases it before calling them.
func (s *Scene) publishLocked() {
	s.dirty = false
	s.version++
	snap := s.snapshotLocked()
	s.published = snap
	subs := append([]func(Snapshot){}, s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

type handle struct {
	scene *Scene
	id    string
}

func (h *handle) Remove()    { h.scene.remove(h.id) }
func (h *handle) OpenPopup() { h.scene.open(h.id) }
