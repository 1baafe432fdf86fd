package db

import (
	"context"
	"fmt"
	"log"
)

// StaticStop is a row of bus_stops
type StaticStop struct {
	StopID    string
	StopCode  string
	Name      string
	Indicator string
	Locality  string
	Latitude  float64
	Longitude float64
}

// StaticRoute is a row of bus_routes
type StaticRoute struct {
	RouteID   string
	ShortName string
	Operator  string
	LongName  string
}

// StaticTrip is a row of bus_trips
type StaticTrip struct {
	TripID   string
	RouteID  string
	Headsign string
	ShapeID  string
}

// RouteSegment is one polyline of a route, points in [lon, lat] order
type RouteSegment struct {
	RouteLabel string
	Operator   string
	Points     [][2]float64
}

// StaticImport is a full timetable import
type StaticImport struct {
	Stops    []StaticStop
	Routes   []StaticRoute
	Trips    []StaticTrip
	Segments []RouteSegment
}

// ReplaceStatic replaces the timetable tables with data in a single
// transaction. Segment indexes are assigned per route label in input order.
func (db *DB) ReplaceStatic(ctx context.Context, data *StaticImport) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Clear everything first so routes dropped from the feed don't linger.
	// Readers keep seeing the old timetable until commit.
	for _, table := range []string{"bus_stops", "bus_routes", "bus_trips", "bus_route_segments"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	// Insert stops. INSERT OR REPLACE tolerates duplicate ids in the feed.
	stopStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bus_stops (stop_id, stop_code, name, indicator, locality, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare stop statement: %w", err)
	}
	defer stopStmt.Close()
	for _, s := range data.Stops {
		if _, err := stopStmt.ExecContext(ctx, s.StopID, s.StopCode, s.Name, s.Indicator, s.Locality, s.Latitude, s.Longitude); err != nil {
			return fmt.Errorf("failed to insert stop %s: %w", s.StopID, err)
		}
	}

	routeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bus_routes (route_id, short_name, operator, long_name)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare route statement: %w", err)
	}
	defer routeStmt.Close()
	for _, r := range data.Routes {
		if _, err := routeStmt.ExecContext(ctx, r.RouteID, r.ShortName, r.Operator, r.LongName); err != nil {
			return fmt.Errorf("failed to insert route %s: %w", r.RouteID, err)
		}
	}

	tripStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bus_trips (trip_id, route_id, headsign, shape_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trip statement: %w", err)
	}
	defer tripStmt.Close()
	for _, t := range data.Trips {
		if _, err := tripStmt.ExecContext(ctx, t.TripID, t.RouteID, t.Headsign, t.ShapeID); err != nil {
			return fmt.Errorf("failed to insert trip %s: %w", t.TripID, err)
		}
	}

	// One row per point; (route_label, segment_idx, point_idx) orders them
	pointStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bus_route_segments (route_label, operator, segment_idx, point_idx, longitude, latitude)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment statement: %w", err)
	}
	defer pointStmt.Close()

	nextSegment := make(map[string]int)
	points := 0
	for _, seg := range data.Segments {
		idx := nextSegment[seg.RouteLabel]
		nextSegment[seg.RouteLabel] = idx + 1
		for i, p := range seg.Points {
			if _, err := pointStmt.ExecContext(ctx, seg.RouteLabel, seg.Operator, idx, i, p[0], p[1]); err != nil {
				return fmt.Errorf("failed to insert segment point for %s: %w", seg.RouteLabel, err)
			}
		}
		points += len(seg.Points)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit static data: %w", err)
	}

	log.Printf("Static import: %d stops, %d routes, %d trips, %d segments (%d points)",
		len(data.Stops), len(data.Routes), len(data.Trips), len(data.Segments), points)
	return nil
}
