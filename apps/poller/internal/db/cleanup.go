package db

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Cleanup deletes snapshots older than the retention duration. Vehicles
// belonging to a deleted snapshot go with it, so a stalled feed empties
// bus_vehicle_current instead of serving stale positions forever.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	// SQLite's datetime modifiers work in whole units; round down to hours
	// but never below one
	hours := int(retention.Hours())
	if hours < 1 {
		hours = 1
	}

	db.LockWrite()
	defer db.UnlockWrite()

	// bus_vehicle_current rows cascade through the snapshot foreign key
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM rt_snapshots WHERE datetime(polled_at_utc) < datetime('now', '-%d hours')", hours),
	)
	if err != nil {
		return fmt.Errorf("failed to cleanup snapshots: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		log.Printf("Cleanup: deleted %d snapshots older than %d hours", rows, hours)
	}

	return nil
}
