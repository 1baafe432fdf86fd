package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cormacmadden/life-os/apps/api/models"
	"github.com/cormacmadden/life-os/apps/api/repository"
	"github.com/cormacmadden/life-os/internal/geo"
)

const (
	locationsCacheTTL   = 60 * time.Second
	defaultSearchRadius = 500
	maxSearchRadius     = 5000
	maxSearchResults    = 25
)

// BusRepository defines the interface for bus data operations
type BusRepository interface {
	UserConfigRepository
	GetStopsByCodes(ctx context.Context, codes []string) (map[string]models.BusStop, error)
	GetStopsInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]models.BusStop, error)
	GetVehicleLocations(ctx context.Context) ([]models.BusLocation, error)
	GetRouteSegments(ctx context.Context, labels []string) (models.RouteSegments, error)
}

// BusHandler handles HTTP requests for bus stops, live locations and routes
type BusHandler struct {
	repo     BusRepository
	defaults models.UserConfig
	now      func() time.Time

	mu        sync.Mutex
	locations *LocationsResponse
	cachedAt  time.Time
}

// NewBusHandler creates a handler. defaults is used while no user config row exists.
func NewBusHandler(repo BusRepository, defaults models.UserConfig) *BusHandler {
	return &BusHandler{repo: repo, defaults: defaults, now: time.Now}
}

// StopsResponse is the JSON response for GET /api/bus/stops
type StopsResponse struct {
	Stops []models.BusStop `json:"stops"`
}

// SearchResponse is the JSON response for GET /api/bus/stops/search
type SearchResponse struct {
	Stops []models.BusStop `json:"stops"`
	Count int              `json:"count"`
}

// LocationsResponse is the JSON response for GET /api/bus/locations
type LocationsResponse struct {
	Locations []models.BusLocation `json:"locations"`
}

// RoutesResponse is the JSON response for GET /api/bus/routes
type RoutesResponse struct {
	Routes []models.BusRoute `json:"routes"`
	Source string            `json:"source"`
}

// GetStops handles GET /api/bus/stops
// Returns the configured commute stops with coordinates
func (h *BusHandler) GetStops(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := loadUserConfig(ctx, h.repo, h.defaults)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user config", err)
		return
	}

	codes, types := cfg.StopTypes()
	if len(codes) == 0 {
		writeJSON(w, http.StatusOK, StopsResponse{Stops: []models.BusStop{}})
		return
	}

	known, err := h.repo.GetStopsByCodes(ctx, codes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve stops", err)
		return
	}

	stops := make([]models.BusStop, 0, len(codes))
	for _, code := range codes {
		stop, ok := known[code]
		if !ok {
			log.Printf("Bus: stop %s not in imported GTFS data", code)
			stop = models.BusStop{Name: "Unknown"}
		}
		stop.AtcoCode = code
		stop.Type = types[code]
		stops = append(stops, stop)
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, StopsResponse{Stops: stops})
}

// SearchStops handles GET /api/bus/stops/search?lat=&lon=&radius=
// Returns up to 25 stops within radius metres, nearest first
func (h *BusHandler) SearchStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	center := geo.Point{Lat: lat, Lng: lon}
	if errLat != nil || errLon != nil || !center.Valid() {
		writeError(w, http.StatusBadRequest, "lat and lon query parameters are required", nil)
		return
	}

	radius := defaultSearchRadius
	if v := q.Get("radius"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSearchRadius {
			writeError(w, http.StatusBadRequest, "radius must be between 1 and 5000 metres", nil)
			return
		}
		radius = n
	}

	// Coarse box first, exact distance after
	dLat := float64(radius) / 111320.0
	dLon := dLat / math.Max(math.Cos(lat*math.Pi/180), 0.01)
	candidates, err := h.repo.GetStopsInBox(r.Context(), lat-dLat, lat+dLat, lon-dLon, lon+dLon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to search stops", err)
		return
	}

	stops := make([]models.BusStop, 0, len(candidates))
	for _, s := range candidates {
		d := geo.Distance(center, geo.Point{Lat: s.Latitude, Lng: s.Longitude})
		if d > float64(radius) {
			continue
		}
		d = math.Round(d)
		s.Distance = &d
		stops = append(stops, s)
	}
	sort.SliceStable(stops, func(i, j int) bool { return *stops[i].Distance < *stops[j].Distance })
	if len(stops) > maxSearchResults {
		stops = stops[:maxSearchResults]
	}

	writeJSON(w, http.StatusOK, SearchResponse{Stops: stops, Count: len(stops)})
}

// GetLocations handles GET /api/bus/locations[?force=true]
// Returns live vehicles on the relevant routes. Responses are cached for 60s
// unless force is set.
func (h *BusHandler) GetLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if !force {
		if cached, ok := h.cachedLocations(); ok {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	cfg, err := loadUserConfig(ctx, h.repo, h.defaults)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user config", err)
		return
	}
	if !cfg.HasStops() {
		writeJSON(w, http.StatusOK, LocationsResponse{Locations: []models.BusLocation{}})
		return
	}

	all, err := h.repo.GetVehicleLocations(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve bus locations", err)
		return
	}

	filter := cfg.RouteFilter()
	locations := make([]models.BusLocation, 0, len(all))
	for _, l := range all {
		if len(filter) > 0 && !filter[strings.ToLower(l.Route)] {
			continue
		}
		locations = append(locations, l)
	}

	resp := LocationsResponse{Locations: locations}
	h.mu.Lock()
	h.locations = &resp
	h.cachedAt = h.now()
	h.mu.Unlock()

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, resp)
}

func (h *BusHandler) cachedLocations() (LocationsResponse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.locations == nil || h.now().Sub(h.cachedAt) >= locationsCacheTTL {
		return LocationsResponse{}, false
	}
	return *h.locations, true
}

// GetRoutes handles GET /api/bus/routes
// Returns imported geometry for each relevant route, falling back to the
// built-in approximations
func (h *BusHandler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := loadUserConfig(ctx, h.repo, h.defaults)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user config", err)
		return
	}

	if len(cfg.RelevantRoutes) == 0 {
		fallback := models.FallbackRoutes()
		for i := range fallback {
			fallback[i].Source = "fallback"
		}
		writeJSON(w, http.StatusOK, RoutesResponse{Routes: fallback, Source: "fallback"})
		return
	}

	stored, err := h.repo.GetRouteSegments(ctx, cfg.RelevantRoutes)
	if err != nil {
		// Geometry is decorative; serve the approximations rather than fail
		log.Printf("Bus: failed to load route segments, using fallbacks: %v", err)
		stored = models.RouteSegments{}
	}
	byLabel := make(map[string]models.StoredRoute, len(stored))
	for _, s := range stored {
		byLabel[strings.ToUpper(s.Label)] = s
	}

	routes := []models.BusRoute{}
	for _, label := range cfg.RelevantRoutes {
		upper := strings.ToUpper(label)
		if s, ok := byLabel[upper]; ok && len(s.Segments) > 0 {
			route := models.BusRoute{Route: upper, Operator: s.Operator, Source: "stored"}
			for _, seg := range s.Segments {
				route.Geometries = append(route.Geometries, models.Geometry{Type: "LineString", Coordinates: seg})
			}
			routes = append(routes, route)
			continue
		}
		if fb, ok := models.FallbackRoute(upper); ok {
			log.Printf("Bus: no stored geometry for route %s, using fallback", upper)
			fb.Source = "fallback"
			routes = append(routes, fb)
		}
	}

	source := "none"
	if len(routes) > 0 {
		source = "mixed"
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, RoutesResponse{Routes: routes, Source: source})
}

// loadUserConfig returns the stored config, or defaults when none is stored
func loadUserConfig(ctx context.Context, repo UserConfigRepository, defaults models.UserConfig) (*models.UserConfig, error) {
	cfg, err := repo.GetUserConfig(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		d := defaults
		return &d, nil
	}
	return cfg, err
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = map[string]interface{}{"internal": err.Error()}
	}
	writeJSON(w, status, resp)
}
