package buses

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cormacmadden/life-os/apps/poller/internal/config"
	"github.com/cormacmadden/life-os/apps/poller/internal/db"
	"github.com/cormacmadden/life-os/internal/geo"
	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

func vehicleEntity(id, vehicleID, tripID, routeID string, lat, lon float32) *gtfs.FeedEntity {
	vp := &gtfs.VehiclePosition{
		Position: &gtfs.Position{
			Latitude:  proto.Float32(lat),
			Longitude: proto.Float32(lon),
			Bearing:   proto.Float32(180),
		},
		Timestamp: proto.Uint64(1760000000),
	}
	if vehicleID != "" {
		vp.Vehicle = &gtfs.VehicleDescriptor{Id: proto.String(vehicleID)}
	}
	if tripID != "" || routeID != "" {
		vp.Trip = &gtfs.TripDescriptor{}
		if tripID != "" {
			vp.Trip.TripId = proto.String(tripID)
		}
		if routeID != "" {
			vp.Trip.RouteId = proto.String(routeID)
		}
	}
	return &gtfs.FeedEntity{Id: proto.String(id), Vehicle: vp}
}

func feedServer(t *testing.T, entities ...*gtfs.FeedEntity) (*httptest.Server, *string) {
	t.Helper()
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1760000000),
		},
		Entity: entities,
	}
	body, err := proto.Marshal(feed)
	if err != nil {
		t.Fatalf("failed to marshal feed: %v", err)
	}

	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &query
}

func newTestPoller(t *testing.T, feedURL string, relevant []string) (*Poller, *db.DB) {
	t.Helper()
	database, err := db.Connect(filepath.Join(t.TempDir(), "transit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	if err := database.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	err = database.ReplaceStatic(ctx, &db.StaticImport{
		Routes: []db.StaticRoute{
			{RouteID: "r-u1", ShortName: "U1", Operator: "Stagecoach"},
			{RouteID: "r-11", ShortName: "11", Operator: "Stagecoach"},
			{RouteID: "r-x17", ShortName: "X17", Operator: "National Express"},
		},
		Trips: []db.StaticTrip{
			{TripID: "t-u1", RouteID: "r-u1", Headsign: "Leamington Spa"},
			{TripID: "t-x17", RouteID: "r-x17", Headsign: "Coventry"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		GTFSVehiclePositionsURL: feedURL,
		APIKey:                  "key",
		FeedBoundingBox:         "-1.75,52.20,-1.40,52.45",
		RelevantRoutes:          relevant,
	}
	p := NewPoller(database, cfg)
	p.now = func() time.Time { return time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC) }
	return p, database
}

type row struct {
	key, route, destination, serviceID string
}

func currentRows(t *testing.T, database *db.DB) map[string]row {
	t.Helper()
	rows, err := database.Conn().Query(
		"SELECT vehicle_key, route_label, destination, service_id FROM bus_vehicle_current",
	)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	out := make(map[string]row)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.route, &r.destination, &r.serviceID); err != nil {
			t.Fatal(err)
		}
		out[r.key] = r
	}
	return out
}

func TestPoll(t *testing.T) {
	srv, query := feedServer(t,
		vehicleEntity("e1", "SCMY-1", "t-u1", "", 52.30, -1.55),  // resolved via trip
		vehicleEntity("e2", "", "", "r-11", 52.40, -1.51),        // resolved via route only
		vehicleEntity("e3", "NX-9", "t-x17", "", 52.41, -1.50),   // not a relevant route
		vehicleEntity("e4", "ZZ-1", "unknown", "", 52.35, -1.52), // unknown to the timetable
		vehicleEntity("e5", "ZZ-2", "t-u1", "", 0, 0),            // no fix
	)

	p, database := newTestPoller(t, srv.URL, []string{"u1", "11"})
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if *query == "" {
		t.Error("expected api_key and boundingBox query parameters")
	}

	got := currentRows(t, database)
	if len(got) != 2 {
		t.Fatalf("expected 2 vehicles, got %d: %v", len(got), got)
	}

	u1 := got["SCMY-1"]
	if u1.route != "U1" || u1.destination != "Leamington Spa" || u1.serviceID != "SCMY-1" {
		t.Errorf("unexpected U1 row %+v", u1)
	}

	route11, ok := got["entity:e2"]
	if !ok {
		t.Fatalf("vehicle without id should be keyed by entity, got %v", got)
	}
	if route11.route != "11" || route11.destination != "" {
		t.Errorf("unexpected route 11 row %+v", route11)
	}
}

func TestPoll_StoredRoutesOverrideEnv(t *testing.T) {
	srv, _ := feedServer(t,
		vehicleEntity("e1", "SCMY-1", "t-u1", "", 52.30, -1.55),
		vehicleEntity("e3", "NX-9", "t-x17", "", 52.41, -1.50),
	)

	p, database := newTestPoller(t, srv.URL, []string{"U1"})
	if _, err := database.Conn().Exec(
		"INSERT INTO user_config (id, relevant_routes) VALUES (1, 'X17')",
	); err != nil {
		t.Fatal(err)
	}

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	got := currentRows(t, database)
	if len(got) != 1 || got["NX-9"].route != "X17" {
		t.Errorf("expected only the X17 vehicle, got %v", got)
	}
}

func TestPoll_FeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, database := newTestPoller(t, srv.URL, nil)
	if _, err := database.ReplaceVehicles(context.Background(), time.Now(), []db.VehiclePosition{
		{VehicleKey: "kept", RouteLabel: "U1", Latitude: 52.3, Longitude: -1.5},
	}); err != nil {
		t.Fatal(err)
	}

	if err := p.Poll(context.Background()); err == nil {
		t.Fatal("expected error for failing feed")
	}

	if got := currentRows(t, database); len(got) != 1 {
		t.Errorf("a failed poll must leave the previous vehicles, got %v", got)
	}
}

func TestRouteFilter(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		route  string
		want   bool
	}{
		{"empty matches all", nil, "U1", true},
		{"exact", []string{"U1"}, "U1", true},
		{"case insensitive", []string{"u1"}, "U1", true},
		{"trimmed", []string{" 11 "}, "11", true},
		{"other route", []string{"U1"}, "U2", false},
		{"blank labels ignored", []string{" ", ""}, "X17", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := newRouteFilter(tc.labels).matches(tc.route); got != tc.want {
				t.Errorf("matches(%q) = %v, want %v", tc.route, got, tc.want)
			}
		})
	}
}

func TestBearingFor(t *testing.T) {
	p := &Poller{last: map[string]lastFix{}}
	feedBearing := 45.0

	moving := feedVehicle{VehicleKey: "v", Latitude: 52.30, Longitude: -1.55}
	if b := p.bearingFor(moving); b != nil {
		t.Errorf("first sighting without feed bearing should have none, got %v", *b)
	}

	withFeed := moving
	withFeed.Bearing = &feedBearing
	if b := p.bearingFor(withFeed); b == nil || *b != 45 {
		t.Errorf("feed bearing should win, got %v", b)
	}

	// Previous fix due south of the new one
	p.last["v"] = lastFix{pos: geo.Point{Lat: 52.29, Lng: -1.55}}
	b := p.bearingFor(moving)
	if b == nil || (*b > 0.5 && *b < 359.5) {
		t.Errorf("moving north should give a bearing near 0, got %v", b)
	}

	// Barely moved: keep the previous bearing
	prev := 270.0
	p.last["v"] = lastFix{pos: geo.Point{Lat: 52.30, Lng: -1.55}, bearing: &prev}
	if b := p.bearingFor(moving); b == nil || *b != 270 {
		t.Errorf("stationary vehicle should keep its bearing, got %v", b)
	}
}
