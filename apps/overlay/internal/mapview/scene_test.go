package mapview

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
	"github.com/cormacmadden/life-os/apps/overlay/internal/overlay"
	"github.com/cormacmadden/life-os/apps/overlay/internal/routes"
	"github.com/cormacmadden/life-os/internal/geo"
)

var initial = geo.Bounds{
	SouthWest: geo.Point{Lat: 52.2892, Lng: -1.5617},
	NorthEast: geo.Point{Lat: 52.3809, Lng: -1.5373},
}

func TestSceneLayers(t *testing.T) {
	s := NewScene(initial, 30)

	snap := s.Snapshot()
	if snap.View.Bounds == nil || snap.View.Padding != 30 {
		t.Fatalf("initial view = %+v", snap.View)
	}

	clicked := 0
	h := s.AddMarker(overlay.Marker{
		Kind:       overlay.KindStop,
		Position:   models.LatLng{Lat: 52.29, Lng: -1.53},
		OnActivate: func() { clicked++ },
	})
	s.AddPolyline(overlay.Polyline{Route: "U1", Points: []models.LatLng{{Lat: 1, Lng: 2}}})

	snap = s.Snapshot()
	if len(snap.Layers) != 2 || snap.Version != 2 {
		t.Fatalf("layers = %d version = %d, want 2/2", len(snap.Layers), snap.Version)
	}
	marker := snap.Layers[0]
	if !marker.Activatable || snap.Layers[1].Activatable {
		t.Errorf("activatable flags = %v/%v", marker.Activatable, snap.Layers[1].Activatable)
	}

	if !s.Activate(marker.ID) || clicked != 1 {
		t.Errorf("Activate did not run handler (clicked=%d)", clicked)
	}
	if s.Activate(snap.Layers[1].ID) {
		t.Error("Activate on polyline returned true")
	}
	if s.Activate("missing") {
		t.Error("Activate on unknown layer returned true")
	}

	h.OpenPopup()
	if got := s.Snapshot().OpenPopup; got != marker.ID {
		t.Errorf("OpenPopup = %q, want %q", got, marker.ID)
	}

	h.Remove()
	snap = s.Snapshot()
	if len(snap.Layers) != 1 || snap.OpenPopup != "" {
		t.Errorf("after Remove: layers = %d openPopup = %q", len(snap.Layers), snap.OpenPopup)
	}

	version := snap.Version
	h.Remove()
	if s.Snapshot().Version != version {
		t.Error("removing twice bumped the version")
	}
}

func TestSceneView(t *testing.T) {
	s := NewScene(initial, 30)

	s.SetView(models.LatLng{Lat: 52.3, Lng: -1.5}, 15)
	v := s.Snapshot().View
	if v.Center == nil || v.Zoom != 15 || v.Bounds != nil {
		t.Errorf("view after SetView = %+v", v)
	}

	s.FitBounds(initial, 50)
	v = s.Snapshot().View
	if v.Center != nil || v.Bounds == nil || v.Padding != 50 {
		t.Errorf("view after FitBounds = %+v", v)
	}
}

// Drives the manager through the scene the same way a browser click would.
func TestSceneWithManager(t *testing.T) {
	s := NewScene(initial, 30)
	m := overlay.NewManager(routes.DefaultPalette())
	m.Attach(s)

	rs := models.RouteSet{}
	rs.Put(models.RouteGeometry{Label: "U1", Points: []models.LatLng{{Lat: 52.29, Lng: -1.53}, {Lat: 52.38, Lng: -1.56}}})
	m.Apply(
		twoU1Vehicles(),
		overlay.SetRoutes(rs),
	)

	snap := s.Snapshot()
	if len(snap.Layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(snap.Layers))
	}

	if !s.Activate(snap.Layers[1].ID) {
		t.Fatal("Activate returned false")
	}
	var lines []Layer
	for _, l := range s.Snapshot().Layers {
		if l.Type == LayerPolyline {
			lines = append(lines, l)
		}
	}
	if len(lines) != 1 || lines[0].Route != "U1" || lines[0].Color != "#3b82f6" {
		t.Errorf("polylines = %+v", lines)
	}
}

// Every snapshot subscribers see while the manager rebuilds holds the whole
// marker set, never a half-cleared one.
func TestSceneReconcilePublishesCompleteState(t *testing.T) {
	s := NewScene(initial, 30)
	m := overlay.NewManager(routes.DefaultPalette())
	m.Apply(overlay.SetVehicles([]models.VehicleLocation{
		{Route: "U1", Latitude: 52.30, Longitude: -1.54},
		{Route: "U1", Latitude: 52.31, Longitude: -1.55},
		{Route: "11", Latitude: 52.32, Longitude: -1.56},
	}))

	var seen []Snapshot
	s.Subscribe(func(snap Snapshot) { seen = append(seen, snap) })

	tests := []struct {
		name   string
		run    func()
		layers int
	}{
		{"attach", func() { m.Attach(s) }, 3},
		{"same vehicles", func() {
			m.Apply(overlay.SetVehicles([]models.VehicleLocation{
				{Route: "U1", Latitude: 52.30, Longitude: -1.54},
				{Route: "U1", Latitude: 52.31, Longitude: -1.55},
				{Route: "11", Latitude: 52.32, Longitude: -1.56},
			}))
		}, 3},
		{"fewer vehicles", func() { m.Apply(twoU1Vehicles()) }, 2},
		{"detach", func() { m.Detach() }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			before := s.Snapshot().Version
			tt.run()

			if len(seen) != 1 {
				t.Fatalf("broadcasts = %d, want 1", len(seen))
			}
			if n := len(seen[0].Layers); n != tt.layers {
				t.Errorf("broadcast layers = %d, want %d", n, tt.layers)
			}
			if v := s.Snapshot().Version; v != before+1 {
				t.Errorf("version = %d, want %d", v, before+1)
			}
		})
	}
}

func TestSceneBatchNests(t *testing.T) {
	s := NewScene(initial, 30)
	var seen []int
	s.Subscribe(func(snap Snapshot) { seen = append(seen, len(snap.Layers)) })

	s.Batch(func() {
		h := s.AddMarker(overlay.Marker{Kind: overlay.KindStop})
		s.Batch(func() {
			s.AddMarker(overlay.Marker{Kind: overlay.KindStop})
			h.Remove()
		})
		if n := len(s.Snapshot().Layers); n != 0 {
			t.Errorf("layers visible inside batch = %d, want 0", n)
		}
		s.AddPolyline(overlay.Polyline{Route: "U1"})
	})

	if len(seen) != 1 || seen[0] != 2 {
		t.Errorf("broadcast layer counts = %v, want [2]", seen)
	}

	// A batch that changes nothing publishes nothing
	version := s.Snapshot().Version
	s.Batch(func() {})
	if len(seen) != 1 || s.Snapshot().Version != version {
		t.Errorf("empty batch published (broadcasts %d, version %d)", len(seen), s.Snapshot().Version)
	}
}

func twoU1Vehicles() overlay.Update {
	return overlay.SetVehicles([]models.VehicleLocation{
		{Route: "U1", Latitude: 52.30, Longitude: -1.54},
		{Route: "U1", Latitude: 52.31, Longitude: -1.55},
	})
}

func TestHub(t *testing.T) {
	s := NewScene(initial, 30)
	hub := NewHub(s)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	clicked := make(chan struct{}, 1)
	s.AddMarker(overlay.Marker{
		Kind:       overlay.KindStop,
		OnActivate: func() { clicked <- struct{}{} },
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readSnapshot(t, conn)
	if len(first.Layers) != 1 {
		t.Fatalf("first snapshot layers = %d, want 1", len(first.Layers))
	}

	if err := conn.WriteJSON(ClientMessage{Type: "activate", Layer: first.Layers[0].ID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-clicked:
	case <-time.After(2 * time.Second):
		t.Fatal("activation never reached the marker")
	}

	s.SetView(models.LatLng{Lat: 52.3, Lng: -1.5}, 15)
	next := readSnapshot(t, conn)
	if next.Version <= first.Version || next.View.Zoom != 15 {
		t.Errorf("broadcast = version %d zoom %d", next.Version, next.View.Zoom)
	}
}

func readSnapshot(t *testing.T, conn *websocket.Conn) Snapshot {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return snap
}

func TestHub_DropsClientThatNeverReads(t *testing.T) {
	s := NewScene(initial, 30)
	hub := NewHub(s)
	hub.sendBuffer = 1
	hub.writeWait = 100 * time.Millisecond
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	// Large enough that a few snapshots fill the socket buffers
	points := make([]models.LatLng, 50000)
	for i := range points {
		points[i] = models.LatLng{Lat: 52 + float64(i)*1e-6, Lng: -1.5}
	}
	s.AddPolyline(overlay.Polyline{Route: "U1", Points: points})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	stalled, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stalled.Close()
	waitForClients(t, hub, 1)

	deadline := time.Now().Add(5 * time.Second)
	for i := 0; hub.Clients() > 0; i++ {
		if time.Now().After(deadline) {
			t.Fatalf("stalled client still connected after %d updates", i)
		}
		start := time.Now()
		s.SetView(models.LatLng{Lat: 52.3, Lng: -1.5}, 10+i%5)
		if d := time.Since(start); d > time.Second {
			t.Fatalf("update %d blocked for %v", i, d)
		}
	}

	// The hub keeps serving new clients
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if snap := readSnapshot(t, conn); snap.Version != s.Snapshot().Version {
		t.Errorf("new client got version %d, want %d", snap.Version, s.Snapshot().Version)
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
