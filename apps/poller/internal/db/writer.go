package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// lookupChunk bounds the number of bound parameters per IN query. SQLite's
// default limit is 999 on older builds, so stay well under it.
const lookupChunk = 500

// VehiclePosition is a bus position ready for insertion into bus_vehicle_current
type VehiclePosition struct {
	VehicleKey       string
	ServiceID        string
	Operator         string
	RouteLabel       string
	TripID           *string
	Latitude         float64
	Longitude        float64
	Bearing          *float64
	Destination      string
	VehicleTimestamp *time.Time
}

// TripInfo is what the static timetable knows about a trip or route
type TripInfo struct {
	RouteLabel string
	Operator   string
	Headsign   string
}

// ReplaceVehicles records a new snapshot and swaps the contents of
// bus_vehicle_current for positions in one transaction. Readers see either
// the previous set or the new one. Returns the snapshot id.
func (db *DB) ReplaceVehicles(ctx context.Context, polledAt time.Time, positions []VehiclePosition) (string, error) {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snapshotID := uuid.New().String()
	polledAtStr := polledAt.UTC().Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO rt_snapshots (snapshot_id, polled_at_utc) VALUES (?, ?)",
		snapshotID, polledAtStr,
	); err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}

	// Full replace rather than upsert: a bus that dropped out of the feed
	// must disappear from the map
	if _, err := tx.ExecContext(ctx, "DELETE FROM bus_vehicle_current"); err != nil {
		return "", fmt.Errorf("failed to clear current vehicles: %w", err)
	}

	// Prepare insert statement for current table. Duplicate keys in one feed
	// keep the first position reported.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bus_vehicle_current (
			vehicle_key, snapshot_id, service_id, operator, route_label, trip_id,
			latitude, longitude, bearing, destination, vehicle_timestamp_utc, polled_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_key) DO NOTHING
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare vehicle statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		// Store timestamps as RFC3339 text so datetime() can compare them
		var vehicleTS *string
		if p.VehicleTimestamp != nil {
			s := p.VehicleTimestamp.UTC().Format(time.RFC3339)
			vehicleTS = &s
		}

		if _, err := stmt.ExecContext(ctx,
			p.VehicleKey, snapshotID, p.ServiceID, p.Operator, p.RouteLabel, p.TripID,
			p.Latitude, p.Longitude, p.Bearing, p.Destination, vehicleTS, polledAtStr,
		); err != nil {
			return "", fmt.Errorf("failed to insert vehicle %s: %w", p.VehicleKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit vehicles: %w", err)
	}
	return snapshotID, nil
}

// LookupTrips resolves trip ids to their route label, operator and headsign
// from the imported timetable. Unknown trips are absent from the result.
func (db *DB) LookupTrips(ctx context.Context, tripIDs []string) (map[string]TripInfo, error) {
	out := make(map[string]TripInfo, len(tripIDs))
	err := db.lookup(ctx, tripIDs, `
		SELECT t.trip_id, r.short_name, r.operator, t.headsign
		FROM bus_trips t
		JOIN bus_routes r ON r.route_id = t.route_id
		WHERE t.trip_id IN (%s)
	`, func(key string, info TripInfo) { out[key] = info })
	if err != nil {
		return nil, fmt.Errorf("failed to look up trips: %w", err)
	}
	return out, nil
}

// LookupRoutes resolves route ids to their label and operator. Headsign is
// always empty.
func (db *DB) LookupRoutes(ctx context.Context, routeIDs []string) (map[string]TripInfo, error) {
	out := make(map[string]TripInfo, len(routeIDs))
	err := db.lookup(ctx, routeIDs, `
		SELECT route_id, short_name, operator, ''
		FROM bus_routes
		WHERE route_id IN (%s)
	`, func(key string, info TripInfo) { out[key] = info })
	if err != nil {
		return nil, fmt.Errorf("failed to look up routes: %w", err)
	}
	return out, nil
}

func (db *DB) lookup(ctx context.Context, keys []string, query string, fn func(string, TripInfo)) error {
	for start := 0; start < len(keys); start += lookupChunk {
		end := start + lookupChunk
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		args := make([]interface{}, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		// One placeholder per key: "?,?,?"
		marks := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(query, marks), args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var key string
			var info TripInfo
			if err := rows.Scan(&key, &info.RouteLabel, &info.Operator, &info.Headsign); err != nil {
				rows.Close()
				return err
			}
			fn(key, info)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// RelevantRoutes returns the user's configured route labels. Nil means the
// user has not configured any.
func (db *DB) RelevantRoutes(ctx context.Context) ([]string, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx,
		"SELECT relevant_routes FROM user_config WHERE id = 1",
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read relevant routes: %w", err)
	}

	// Stored as a comma-separated list, e.g. "U1, 11,U2"
	var routes []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			routes = append(routes, part)
		}
	}
	return routes, nil
}
