package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cormacmadden/life-os/apps/api/models"
)

// BusRepository serves bus data from Postgres, for deployments where the
// poller's tables are replicated into a shared database
type BusRepository struct {
	pool *pgxpool.Pool
}

func NewBusRepository(databaseURL string) (*BusRepository, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &BusRepository{pool: pool}, nil
}

func (r *BusRepository) Close() {
	r.pool.Close()
}

func (r *BusRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *BusRepository) GetUserConfig(ctx context.Context) (*models.UserConfig, error) {
	query := `
		SELECT
			morning_bus_stops,
			evening_bus_stops,
			relevant_routes,
			home_latitude,
			home_longitude,
			work_latitude,
			work_longitude
		FROM user_config
		WHERE id = 1
	`

	var morning, evening, routes string
	var c models.UserConfig
	err := r.pool.QueryRow(ctx, query).Scan(
		&morning,
		&evening,
		&routes,
		&c.HomeLatitude,
		&c.HomeLongitude,
		&c.WorkLatitude,
		&c.WorkLongitude,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user config: %w", err)
	}

	c.MorningBusStops = models.SplitList(morning)
	c.EveningBusStops = models.SplitList(evening)
	c.RelevantRoutes = models.SplitList(routes)
	return &c, nil
}

func (r *BusRepository) GetStopsByCodes(ctx context.Context, codes []string) (map[string]models.BusStop, error) {
	stops := make(map[string]models.BusStop, len(codes))
	if len(codes) == 0 {
		return stops, nil
	}

	query := `
		SELECT stop_id, stop_code, name, indicator, locality, latitude, longitude
		FROM bus_stops
		WHERE stop_id = ANY($1) OR stop_code = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.BusStop
		var stopCode string
		if err := rows.Scan(&s.AtcoCode, &stopCode, &s.Name, &s.Indicator, &s.Locality, &s.Latitude, &s.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan stop row: %w", err)
		}
		stops[s.AtcoCode] = s
		if stopCode != "" {
			stops[stopCode] = s
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop rows: %w", err)
	}

	return stops, nil
}

func (r *BusRepository) GetStopsInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]models.BusStop, error) {
	query := `
		SELECT stop_id, name, indicator, locality, latitude, longitude
		FROM bus_stops
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
	`

	rows, err := r.pool.Query(ctx, query, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops in box: %w", err)
	}
	defer rows.Close()

	stops := []models.BusStop{}
	for rows.Next() {
		var s models.BusStop
		if err := rows.Scan(&s.AtcoCode, &s.Name, &s.Indicator, &s.Locality, &s.Latitude, &s.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan stop row: %w", err)
		}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop rows: %w", err)
	}

	return stops, nil
}

func (r *BusRepository) GetVehicleLocations(ctx context.Context) ([]models.BusLocation, error) {
	query := `
		SELECT
			service_id,
			operator,
			route_label,
			latitude,
			longitude,
			bearing,
			destination,
			COALESCE(vehicle_timestamp_utc, polled_at_utc)
		FROM bus_vehicle_current
		ORDER BY route_label, vehicle_key
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	locations := []models.BusLocation{}
	for rows.Next() {
		var l models.BusLocation
		var updated time.Time
		if err := rows.Scan(
			&l.ServiceID,
			&l.Operator,
			&l.Route,
			&l.Latitude,
			&l.Longitude,
			&l.Bearing,
			&l.Destination,
			&updated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle row: %w", err)
		}
		l.LastUpdated = updated.UTC().Format(time.RFC3339)
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vehicle rows: %w", err)
	}

	return locations, nil
}

func (r *BusRepository) GetRouteSegments(ctx context.Context, labels []string) (models.RouteSegments, error) {
	routes := models.RouteSegments{}
	if len(labels) == 0 {
		return routes, nil
	}

	upper := make([]string, len(labels))
	for i, l := range labels {
		upper[i] = strings.ToUpper(l)
	}

	query := `
		SELECT route_label, operator, segment_idx, longitude, latitude
		FROM bus_route_segments
		WHERE upper(route_label) = ANY($1)
		ORDER BY route_label, segment_idx, point_idx
	`

	rows, err := r.pool.Query(ctx, query, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to query route segments: %w", err)
	}
	defer rows.Close()

	b := newSegmentBuilder(routes)
	for rows.Next() {
		var label, operator string
		var segment int
		var lon, lat float64
		if err := rows.Scan(&label, &operator, &segment, &lon, &lat); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		b.add(label, operator, segment, lon, lat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment rows: %w", err)
	}

	return routes, nil
}

func (r *BusRepository) GetDataFreshness(ctx context.Context) (*time.Time, int, error) {
	var polledAt *time.Time
	if err := r.pool.QueryRow(ctx, `SELECT MAX(polled_at_utc) FROM rt_snapshots`).Scan(&polledAt); err != nil {
		return nil, 0, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bus_vehicle_current`).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count vehicles: %w", err)
	}

	return polledAt, count, nil
}
