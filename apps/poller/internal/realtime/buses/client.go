package buses

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cormacmadden/life-os/apps/poller/internal/config"
	"github.com/cormacmadden/life-os/apps/poller/internal/db"
	"github.com/cormacmadden/life-os/internal/geo"
	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// minMoveMeters is how far a vehicle must travel between polls before a
// bearing is derived from its movement
const minMoveMeters = 10

// Poller polls a GTFS-RT vehicle positions feed into bus_vehicle_current.
// Poll is not safe for concurrent use.
type Poller struct {
	db     *db.DB
	cfg    *config.Config
	client *http.Client
	now    func() time.Time

	// last fix and bearing per vehicle key, from the previous poll
	last map[string]lastFix
}

type lastFix struct {
	pos     geo.Point
	bearing *float64
}

// NewPoller creates a new bus poller
func NewPoller(database *db.DB, cfg *config.Config) *Poller {
	return &Poller{
		db:  database,
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		now:  time.Now,
		last: make(map[string]lastFix),
	}
}

// Poll fetches the feed, resolves each vehicle's route and destination from
// the imported timetable, keeps the relevant routes and replaces the current
// vehicle set
func (p *Poller) Poll(ctx context.Context) error {
	polledAt := p.now().UTC()

	vehicles, err := p.fetchVehiclePositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch vehicle positions: %w", err)
	}

	filter, err := p.relevantRoutes(ctx)
	if err != nil {
		return err
	}

	positions, err := p.resolve(ctx, vehicles, filter)
	if err != nil {
		return err
	}

	if _, err := p.db.ReplaceVehicles(ctx, polledAt, positions); err != nil {
		return fmt.Errorf("failed to write positions: %w", err)
	}

	log.Printf("Buses: polled %d vehicles, kept %d", len(vehicles), len(positions))
	return nil
}

// relevantRoutes prefers the user's stored configuration over RELEVANT_ROUTES
func (p *Poller) relevantRoutes(ctx context.Context) (routeFilter, error) {
	routes, err := p.db.RelevantRoutes(ctx)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		routes = p.cfg.RelevantRoutes
	}
	return newRouteFilter(routes), nil
}

// resolve maps feed vehicles to rows. Vehicles whose trip and route are both
// unknown to the timetable are dropped, as are vehicles on other routes.
func (p *Poller) resolve(ctx context.Context, vehicles []feedVehicle, filter routeFilter) ([]db.VehiclePosition, error) {
	var tripIDs, routeIDs []string
	for _, v := range vehicles {
		if v.TripID != nil {
			tripIDs = append(tripIDs, *v.TripID)
		}
		if v.RouteID != nil {
			routeIDs = append(routeIDs, *v.RouteID)
		}
	}

	trips, err := p.db.LookupTrips(ctx, tripIDs)
	if err != nil {
		return nil, err
	}
	routes, err := p.db.LookupRoutes(ctx, routeIDs)
	if err != nil {
		return nil, err
	}

	positions := make([]db.VehiclePosition, 0, len(vehicles))
	seen := make(map[string]lastFix, len(vehicles))
	for _, v := range vehicles {
		var info db.TripInfo
		var found bool
		if v.TripID != nil {
			info, found = trips[*v.TripID]
		}
		if !found && v.RouteID != nil {
			info, found = routes[*v.RouteID]
		}
		if !found || info.RouteLabel == "" || !filter.matches(info.RouteLabel) {
			continue
		}

		bearing := p.bearingFor(v)
		seen[v.VehicleKey] = lastFix{pos: geo.Point{Lat: v.Latitude, Lng: v.Longitude}, bearing: bearing}

		positions = append(positions, db.VehiclePosition{
			VehicleKey:       v.VehicleKey,
			ServiceID:        v.VehicleID,
			Operator:         info.Operator,
			RouteLabel:       info.RouteLabel,
			TripID:           v.TripID,
			Latitude:         v.Latitude,
			Longitude:        v.Longitude,
			Bearing:          bearing,
			Destination:      info.Headsign,
			VehicleTimestamp: v.Timestamp,
		})
	}
	p.last = seen

	return positions, nil
}

// bearingFor returns the feed's bearing, else one derived from the vehicle's
// movement since the previous poll. A vehicle that has not moved keeps its
// previous bearing.
func (p *Poller) bearingFor(v feedVehicle) *float64 {
	if v.Bearing != nil {
		return v.Bearing
	}
	prev, ok := p.last[v.VehicleKey]
	if !ok {
		return nil
	}
	cur := geo.Point{Lat: v.Latitude, Lng: v.Longitude}
	if geo.Distance(prev.pos, cur) < minMoveMeters {
		return prev.bearing
	}
	b := geo.Bearing(prev.pos.Lat, prev.pos.Lng, cur.Lat, cur.Lng)
	return &b
}

// fetchVehiclePositions fetches and decodes the vehicle positions feed
func (p *Poller) fetchVehiclePositions(ctx context.Context) ([]feedVehicle, error) {
	feed, err := p.fetchFeed(ctx, p.cfg.GTFSVehiclePositionsURL)
	if err != nil {
		return nil, err
	}

	var vehicles []feedVehicle
	for _, entity := range feed.Entity {
		if v, ok := decodeVehicle(entity); ok {
			vehicles = append(vehicles, v)
		}
	}
	return vehicles, nil
}

// decodeVehicle extracts a positioned vehicle from a feed entity
func decodeVehicle(entity *gtfs.FeedEntity) (feedVehicle, bool) {
	vehicle := entity.GetVehicle()
	if vehicle == nil || vehicle.GetPosition() == nil {
		return feedVehicle{}, false
	}

	pos := vehicle.GetPosition()
	lat, lon := float64(pos.GetLatitude()), float64(pos.GetLongitude())
	if lat == 0 && lon == 0 {
		return feedVehicle{}, false
	}

	v := feedVehicle{
		Latitude:  lat,
		Longitude: lon,
	}

	if id := vehicle.GetVehicle().GetId(); id != "" {
		v.VehicleID = id
		v.VehicleKey = id
	} else {
		v.VehicleKey = "entity:" + entity.GetId()
	}

	if trip := vehicle.GetTrip(); trip != nil {
		if trip.TripId != nil && *trip.TripId != "" {
			v.TripID = trip.TripId
		}
		if trip.RouteId != nil && *trip.RouteId != "" {
			v.RouteID = trip.RouteId
		}
	}

	if pos.Bearing != nil {
		b := float64(*pos.Bearing)
		v.Bearing = &b
	}

	if vehicle.Timestamp != nil {
		ts := time.Unix(int64(*vehicle.Timestamp), 0).UTC()
		v.Timestamp = &ts
	}

	return v, true
}

// fetchFeed fetches a GTFS-RT feed from the given URL
func (p *Poller) fetchFeed(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	if p.cfg.APIKey != "" {
		q.Set("api_key", p.cfg.APIKey)
	}
	if p.cfg.FeedBoundingBox != "" {
		q.Set("boundingBox", p.cfg.FeedBoundingBox)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}

	return feed, nil
}

func newRouteFilter(labels []string) routeFilter {
	f := make(routeFilter, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			f[strings.ToLower(l)] = struct{}{}
		}
	}
	return f
}

func (f routeFilter) matches(label string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[strings.ToLower(strings.TrimSpace(label))]
	return ok
}
