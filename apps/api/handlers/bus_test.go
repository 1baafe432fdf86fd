package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cormacmadden/life-os/apps/api/models"
	"github.com/cormacmadden/life-os/apps/api/repository"
)

type fakeRepo struct {
	config    *models.UserConfig
	stops     map[string]models.BusStop
	box       []models.BusStop
	vehicles  []models.BusLocation
	segments  models.RouteSegments
	polledAt  *time.Time
	pingErr   error
	vehicleQs int
}

func (f *fakeRepo) GetUserConfig(ctx context.Context) (*models.UserConfig, error) {
	if f.config == nil {
		return nil, repository.ErrNotFound
	}
	c := *f.config
	return &c, nil
}

func (f *fakeRepo) GetStopsByCodes(ctx context.Context, codes []string) (map[string]models.BusStop, error) {
	return f.stops, nil
}

func (f *fakeRepo) GetStopsInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]models.BusStop, error) {
	return f.box, nil
}

func (f *fakeRepo) GetVehicleLocations(ctx context.Context) ([]models.BusLocation, error) {
	f.vehicleQs++
	return f.vehicles, nil
}

func (f *fakeRepo) GetRouteSegments(ctx context.Context, labels []string) (models.RouteSegments, error) {
	if f.segments == nil {
		return models.RouteSegments{}, nil
	}
	return f.segments, nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeRepo) GetDataFreshness(ctx context.Context) (*time.Time, int, error) {
	return f.polledAt, len(f.vehicles), nil
}

func get(t *testing.T, h http.HandlerFunc, target string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", target, err)
		}
	}
	return rec
}

func TestGetStops(t *testing.T) {
	repo := &fakeRepo{
		config: &models.UserConfig{
			MorningBusStops: []string{"4200F225601", "4200F999999"},
			EveningBusStops: []string{"4200F225601", "4200F111111"},
		},
		stops: map[string]models.BusStop{
			"4200F225601": {AtcoCode: "4200F225601", Name: "Upper Parade Stand K", Latitude: 52.29238, Longitude: -1.53576},
			"4200F111111": {AtcoCode: "4200F111111", Name: "University Interchange", Latitude: 52.3809, Longitude: -1.5617},
		},
	}
	h := NewBusHandler(repo, models.UserConfig{})

	var resp StopsResponse
	rec := get(t, h.GetStops, "/api/bus/stops", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if len(resp.Stops) != 3 {
		t.Fatalf("stops = %d, want 3", len(resp.Stops))
	}
	tests := []struct {
		code, name, typ string
	}{
		{"4200F225601", "Upper Parade Stand K", "morning"},
		{"4200F999999", "Unknown", "morning"},
		{"4200F111111", "University Interchange", "evening"},
	}
	for i, tt := range tests {
		s := resp.Stops[i]
		if s.AtcoCode != tt.code || s.Name != tt.name || s.Type != tt.typ {
			t.Errorf("stop %d = %+v, want %s/%s/%s", i, s, tt.code, tt.name, tt.typ)
		}
	}
}

func TestGetStops_NoneConfigured(t *testing.T) {
	h := NewBusHandler(&fakeRepo{}, models.UserConfig{})

	rec := get(t, h.GetStops, "/api/bus/stops", nil)
	if got := rec.Body.String(); got != "{\"stops\":[]}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestSearchStops(t *testing.T) {
	repo := &fakeRepo{box: []models.BusStop{
		{AtcoCode: "far", Latitude: 52.2950, Longitude: -1.5373},
		{AtcoCode: "near", Latitude: 52.2895, Longitude: -1.5373},
		{AtcoCode: "outside", Latitude: 52.3100, Longitude: -1.5373},
	}}
	h := NewBusHandler(repo, models.UserConfig{})

	var resp SearchResponse
	rec := get(t, h.SearchStops, "/api/bus/stops/search?lat=52.2892&lon=-1.5373&radius=1000", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Count != 2 || resp.Stops[0].AtcoCode != "near" || resp.Stops[1].AtcoCode != "far" {
		t.Errorf("stops = %+v", resp.Stops)
	}
	if resp.Stops[0].Distance == nil || *resp.Stops[0].Distance > 50 {
		t.Errorf("near distance = %v", resp.Stops[0].Distance)
	}

	bad := []string{
		"/api/bus/stops/search",
		"/api/bus/stops/search?lat=abc&lon=1",
		"/api/bus/stops/search?lat=95&lon=1",
		"/api/bus/stops/search?lat=52&lon=-1&radius=0",
		"/api/bus/stops/search?lat=52&lon=-1&radius=99999",
	}
	for _, target := range bad {
		if rec := get(t, h.SearchStops, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestGetLocations_FilterAndCache(t *testing.T) {
	repo := &fakeRepo{
		config: &models.UserConfig{
			MorningBusStops: []string{"A"},
			RelevantRoutes:  []string{"u1", "11"},
		},
		vehicles: []models.BusLocation{
			{Route: "U1", Latitude: 52.30, Longitude: -1.54},
			{Route: "U2", Latitude: 52.31, Longitude: -1.55},
			{Route: "11", Latitude: 52.32, Longitude: -1.56},
		},
	}
	h := NewBusHandler(repo, models.UserConfig{})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	var resp LocationsResponse
	get(t, h.GetLocations, "/api/bus/locations", &resp)
	if len(resp.Locations) != 2 || resp.Locations[0].Route != "U1" || resp.Locations[1].Route != "11" {
		t.Fatalf("locations = %+v", resp.Locations)
	}

	rec := get(t, h.GetLocations, "/api/bus/locations", nil)
	if rec.Header().Get("X-Cache") != "HIT" || repo.vehicleQs != 1 {
		t.Errorf("second request: cache = %s, queries = %d", rec.Header().Get("X-Cache"), repo.vehicleQs)
	}

	rec = get(t, h.GetLocations, "/api/bus/locations?force=true", nil)
	if rec.Header().Get("X-Cache") != "MISS" || repo.vehicleQs != 2 {
		t.Errorf("forced request: cache = %s, queries = %d", rec.Header().Get("X-Cache"), repo.vehicleQs)
	}

	now = now.Add(61 * time.Second)
	get(t, h.GetLocations, "/api/bus/locations", nil)
	if repo.vehicleQs != 3 {
		t.Errorf("expired cache: queries = %d, want 3", repo.vehicleQs)
	}
}

func TestGetLocations_NoStops(t *testing.T) {
	repo := &fakeRepo{vehicles: []models.BusLocation{{Route: "U1"}}}
	h := NewBusHandler(repo, models.UserConfig{})

	var resp LocationsResponse
	get(t, h.GetLocations, "/api/bus/locations", &resp)
	if resp.Locations == nil || len(resp.Locations) != 0 {
		t.Errorf("locations = %+v, want empty list", resp.Locations)
	}
}

func TestGetRoutes(t *testing.T) {
	t.Run("no relevant routes serves every fallback", func(t *testing.T) {
		h := NewBusHandler(&fakeRepo{}, models.UserConfig{})
		var resp RoutesResponse
		get(t, h.GetRoutes, "/api/bus/routes", &resp)
		if resp.Source != "fallback" || len(resp.Routes) != 3 {
			t.Errorf("source = %s routes = %d", resp.Source, len(resp.Routes))
		}
		if c := resp.Routes[0].Coordinates[0]; c != [2]float64{52.2892, -1.5373} {
			t.Errorf("first fallback coordinate = %v", c)
		}
	})

	t.Run("stored geometry wins over fallback", func(t *testing.T) {
		repo := &fakeRepo{
			config: &models.UserConfig{RelevantRoutes: []string{"u1", "u2", "x9"}},
			segments: models.RouteSegments{
				"U1": {Label: "U1", Operator: "SCNH", Segments: [][][2]float64{
					{{-1.5373, 52.2892}, {-1.5389, 52.2916}},
					{{-1.5389, 52.2916}, {-1.5617, 52.3809}},
				}},
			},
		}
		h := NewBusHandler(repo, models.UserConfig{})
		var resp RoutesResponse
		get(t, h.GetRoutes, "/api/bus/routes", &resp)

		if resp.Source != "mixed" || len(resp.Routes) != 2 {
			t.Fatalf("source = %s routes = %+v", resp.Source, resp.Routes)
		}
		u1 := resp.Routes[0]
		if u1.Route != "U1" || len(u1.Geometries) != 2 || u1.Geometries[0].Type != "LineString" || u1.Coordinates != nil {
			t.Errorf("U1 = %+v", u1)
		}
		u2 := resp.Routes[1]
		if u2.Route != "U2" || len(u2.Coordinates) == 0 || u2.Source != "fallback" {
			t.Errorf("U2 = %+v", u2)
		}
	})

	t.Run("nothing known", func(t *testing.T) {
		repo := &fakeRepo{config: &models.UserConfig{RelevantRoutes: []string{"x9"}}}
		h := NewBusHandler(repo, models.UserConfig{})
		var resp RoutesResponse
		get(t, h.GetRoutes, "/api/bus/routes", &resp)
		if resp.Source != "none" || len(resp.Routes) != 0 {
			t.Errorf("source = %s routes = %+v", resp.Source, resp.Routes)
		}
	})
}

func TestGetConfig_DefaultsWhenMissing(t *testing.T) {
	lat, lon := 52.2892, -1.5373
	h := NewUserHandler(&fakeRepo{}, models.UserConfig{
		RelevantRoutes: []string{"U1"},
		HomeLatitude:   &lat,
		HomeLongitude:  &lon,
	})

	var body map[string]interface{}
	get(t, h.GetConfig, "/api/user/config", &body)
	if body["home_latitude"] != lat || body["work_latitude"] != nil {
		t.Errorf("body = %v", body)
	}
}

func TestHealth(t *testing.T) {
	polled := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	repo := &fakeRepo{polledAt: &polled, vehicles: []models.BusLocation{{}, {}}}
	h := NewHealthHandler(repo)
	h.now = func() time.Time { return polled.Add(45 * time.Second) }

	if rec := get(t, h.Health, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	var f models.DataFreshness
	get(t, h.GetDataFreshness, "/api/health/data", &f)
	if f.AgeSeconds != 45 || f.Status != models.FreshnessFresh || f.VehicleCount != 2 {
		t.Errorf("freshness = %+v", f)
	}

	repo.pingErr = context.DeadlineExceeded
	if rec := get(t, h.Health, "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health status with failing db = %d", rec.Code)
	}
}
