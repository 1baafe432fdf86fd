package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cormacmadden/life-os/apps/api/models"
	"github.com/cormacmadden/life-os/internal/schema"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// SQLiteDB wraps a SQL database connection for SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// EnsureSchema creates the tables the poller writes, so the API can start
// before the first poll
func (s *SQLiteDB) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema.SQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *SQLiteDB) GetDB() *sql.DB {
	return s.db
}

// SQLiteBusRepository serves bus data from the poller's SQLite database
type SQLiteBusRepository struct {
	db *sql.DB
}

// NewSQLiteBusRepository creates a new SQLiteBusRepository
func NewSQLiteBusRepository(db *sql.DB) *SQLiteBusRepository {
	return &SQLiteBusRepository{db: db}
}

// parseTimeString converts an RFC3339 string to *time.Time
// Returns nil if the input is nil or empty
func parseTimeString(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}

// placeholders returns "?, ?, ..." for n arguments
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Ping checks database connectivity
func (r *SQLiteBusRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// GetUserConfig returns the stored commute configuration, or ErrNotFound
func (r *SQLiteBusRepository) GetUserConfig(ctx context.Context) (*models.UserConfig, error) {
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
	err := r.db.QueryRowContext(ctx, query).Scan(
		&morning,
		&evening,
		&routes,
		&c.HomeLatitude,
		&c.HomeLongitude,
		&c.WorkLatitude,
		&c.WorkLongitude,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user config: %w", err)
	}

	c.MorningBusStops = models.SplitList(morning)
	c.EveningBusStops = models.SplitList(evening)
	c.RelevantRoutes = models.SplitList(routes)
	return &c, nil
}

// GetStopsByCodes returns the known stops keyed by the requested code. A code
// matches either the stop id (ATCO code) or the public stop code.
func (r *SQLiteBusRepository) GetStopsByCodes(ctx context.Context, codes []string) (map[string]models.BusStop, error) {
	stops := make(map[string]models.BusStop, len(codes))
	if len(codes) == 0 {
		return stops, nil
	}

	in := placeholders(len(codes))
	query := `
		SELECT stop_id, stop_code, name, indicator, locality, latitude, longitude
		FROM bus_stops
		WHERE stop_id IN (` + in + `) OR stop_code IN (` + in + `)
	`
	args := make([]interface{}, 0, 2*len(codes))
	for _, c := range codes {
		args = append(args, c)
	}
	for _, c := range codes {
		args = append(args, c)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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

// GetStopsInBox returns stops inside a latitude/longitude box
func (r *SQLiteBusRepository) GetStopsInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]models.BusStop, error) {
	query := `
		SELECT stop_id, name, indicator, locality, latitude, longitude
		FROM bus_stops
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
	`

	rows, err := r.db.QueryContext(ctx, query, minLat, maxLat, minLon, maxLon)
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

// GetVehicleLocations returns every vehicle of the latest snapshot
func (r *SQLiteBusRepository) GetVehicleLocations(ctx context.Context) ([]models.BusLocation, error) {
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

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	locations := []models.BusLocation{}
	for rows.Next() {
		var l models.BusLocation
		if err := rows.Scan(
			&l.ServiceID,
			&l.Operator,
			&l.Route,
			&l.Latitude,
			&l.Longitude,
			&l.Bearing,
			&l.Destination,
			&l.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle row: %w", err)
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vehicle rows: %w", err)
	}

	return locations, nil
}

// GetRouteSegments returns the stored geometry of the given route labels,
// matched case-insensitively
func (r *SQLiteBusRepository) GetRouteSegments(ctx context.Context, labels []string) (models.RouteSegments, error) {
	routes := models.RouteSegments{}
	if len(labels) == 0 {
		return routes, nil
	}

	query := `
		SELECT route_label, operator, segment_idx, longitude, latitude
		FROM bus_route_segments
		WHERE upper(route_label) IN (` + placeholders(len(labels)) + `)
		ORDER BY route_label, segment_idx, point_idx
	`
	args := make([]interface{}, len(labels))
	for i, l := range labels {
		args[i] = strings.ToUpper(l)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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

// GetDataFreshness returns the time of the latest snapshot and how many
// vehicles it holds
func (r *SQLiteBusRepository) GetDataFreshness(ctx context.Context) (*time.Time, int, error) {
	var polledAt *string
	err := r.db.QueryRowContext(ctx, `SELECT MAX(polled_at_utc) FROM rt_snapshots`).Scan(&polledAt)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bus_vehicle_current`).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count vehicles: %w", err)
	}

	return parseTimeString(polledAt), count, nil
}

// segmentBuilder groups ordered point rows into routes and segments
type segmentBuilder struct {
	routes models.RouteSegments
	last   map[string]int
}

func newSegmentBuilder(routes models.RouteSegments) *segmentBuilder {
	return &segmentBuilder{routes: routes, last: map[string]int{}}
}

func (b *segmentBuilder) add(label, operator string, segment int, lon, lat float64) {
	route, ok := b.routes[label]
	if !ok {
		route = models.StoredRoute{Label: label, Operator: operator}
	}
	if last, seen := b.last[label]; !seen || last != segment {
		route.Segments = append(route.Segments, nil)
		b.last[label] = segment
	}
	i := len(route.Segments) - 1
	route.Segments[i] = append(route.Segments[i], [2]float64{lon, lat})
	b.routes[label] = route
}
