// Package geodata fetches stops, live vehicle locations, route geometries and
// home/work anchors from the bus backend.
package geodata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/cormacmadden/life-os/apps/overlay/internal/models"
)

// Endpoint yields the backend base URL to use for a request
type Endpoint interface {
	BaseURL(ctx context.Context) string
}

// StaticEndpoint is an Endpoint that never changes
type StaticEndpoint string

// BaseURL implements Endpoint
func (s StaticEndpoint) BaseURL(context.Context) string { return string(s) }

// Fetcher retrieves overlay data. Every method logs its own failures and
// returns the empty value instead of an error, so one failing endpoint never
// blocks another.
type Fetcher struct {
	endpoint Endpoint
	client   *http.Client
}

// NewFetcher creates a fetcher. Live-data requests carry no client timeout.
func NewFetcher(endpoint Endpoint) *Fetcher {
	return &Fetcher{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// FetchStops returns the configured stops (GET /api/bus/stops)
func (f *Fetcher) FetchStops(ctx context.Context) []models.Stop {
	var resp struct {
		Stops []models.Stop `json:"stops"`
	}
	if err := f.getJSON(ctx, "/api/bus/stops", &resp); err != nil {
		log.Printf("Geodata: error fetching bus stops: %v", err)
		return []models.Stop{}
	}
	if resp.Stops == nil {
		return []models.Stop{}
	}
	return resp.Stops
}

// FetchVehicleLocations returns live vehicles (GET /api/bus/locations). force
// asks the backend to bypass its cache.
func (f *Fetcher) FetchVehicleLocations(ctx context.Context, force bool) []models.VehicleLocation {
	path := "/api/bus/locations"
	if force {
		path += "?force=true"
	}

	var resp struct {
		Locations []models.VehicleLocation `json:"locations"`
	}
	if err := f.getJSON(ctx, path, &resp); err != nil {
		log.Printf("Geodata: error fetching bus locations: %v", err)
		return []models.VehicleLocation{}
	}
	if resp.Locations == nil {
		return []models.VehicleLocation{}
	}
	return resp.Locations
}

// FetchRouteGeometries returns every route the backend knows a path for
// (GET /api/bus/routes), flattened and normalised to (lat, lon).
func (f *Fetcher) FetchRouteGeometries(ctx context.Context) models.RouteSet {
	var resp struct {
		Routes []routeRecord `json:"routes"`
		Source string        `json:"source"`
	}
	routes := models.RouteSet{}
	if err := f.getJSON(ctx, "/api/bus/routes", &resp); err != nil {
		log.Printf("Geodata: error fetching bus routes: %v", err)
		return routes
	}

	for _, rec := range resp.Routes {
		if g, ok := normalizeRoute(rec); ok {
			routes.Put(g)
		}
	}

	source := resp.Source
	if source == "" {
		source = "unknown"
	}
	log.Printf("Geodata: loaded %d bus routes (source: %s)", len(routes), source)
	return routes
}

// FetchAnchors returns the home/work pins from the user's configuration
// (GET /api/user/config). Missing coordinates mean no pin.
func (f *Fetcher) FetchAnchors(ctx context.Context) models.Anchors {
	var cfg userConfig
	if err := f.getJSON(ctx, "/api/user/config", &cfg); err != nil {
		log.Printf("Geodata: error fetching user config: %v", err)
		return models.Anchors{}
	}
	return cfg.anchors()
}

// Request selects which datasets Fetch retrieves
type Request struct {
	Stops    bool
	Vehicles bool
	Routes   bool
	Anchors  bool
	// Force bypasses the backend's vehicle location cache
	Force bool
}

// Result holds the datasets a Fetch retrieved. Fields not requested are left zero.
type Result struct {
	Stops    []models.Stop
	Vehicles []models.VehicleLocation
	Routes   models.RouteSet
	Anchors  models.Anchors
}

// Fetch issues the requested fetches concurrently and returns once all of
// them have settled.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Result {
	var (
		res Result
		wg  sync.WaitGroup
	)

	if req.Stops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Stops = f.FetchStops(ctx)
		}()
	}
	if req.Vehicles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Vehicles = f.FetchVehicleLocations(ctx, req.Force)
		}()
	}
	if req.Routes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Routes = f.FetchRouteGeometries(ctx)
		}()
	}
	if req.Anchors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Anchors = f.FetchAnchors(ctx)
		}()
	}

	wg.Wait()
	return res
}

func (f *Fetcher) getJSON(ctx context.Context, path string, out interface{}) error {
	url := f.endpoint.BaseURL(ctx) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
