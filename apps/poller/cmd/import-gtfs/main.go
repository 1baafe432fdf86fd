// Command import-gtfs loads a GTFS timetable into the transit database once,
// either from a local zip or by downloading GTFS_STATIC_URL.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/cormacmadden/life-os/apps/poller/internal/config"
	"github.com/cormacmadden/life-os/apps/poller/internal/db"
	"github.com/cormacmadden/life-os/apps/poller/internal/static"
)

func main() {
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	cfg := config.Load()

	dbPath := flag.String("db", cfg.DatabasePath, "Path to SQLite database")
	zipPath := flag.String("zip", "", "Local GTFS zip to import instead of downloading")
	flag.Parse()

	database, err := db.Connect(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	if *zipPath != "" {
		log.Printf("Importing %s...", *zipPath)
		if err := static.ImportFile(ctx, database, *zipPath); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
	} else {
		log.Printf("Downloading and importing %s...", cfg.GTFSStaticURL)
		if err := static.Refresh(ctx, cfg, database); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
	}

	log.Println("GTFS import complete")
}
