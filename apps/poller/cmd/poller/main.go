package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cormacmadden/life-os/apps/poller/internal/config"
	"github.com/cormacmadden/life-os/apps/poller/internal/db"
	"github.com/cormacmadden/life-os/apps/poller/internal/realtime/buses"
	"github.com/cormacmadden/life-os/apps/poller/internal/static"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	log.Println("Starting bus poller...")

	cfg := config.Load()
	log.Printf("Config loaded: poll_interval=%v, retention=%v", cfg.PollInterval, cfg.RetentionDuration)
	if cfg.APIKey == "" {
		log.Println("Warning: BODS_API_KEY not set, feed requests may be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Initialize Database
	// ═══════════════════════════════════════════════════════
	database, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Println("Database initialized")

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Static Data Refresh (startup)
	// ═══════════════════════════════════════════════════════
	log.Println("Checking static data freshness...")
	if err := static.RefreshIfStale(ctx, cfg, database); err != nil {
		// Keep going with whatever timetable is already imported
		log.Printf("Warning: static data refresh failed: %v", err)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Start Polling Loops
	// ═══════════════════════════════════════════════════════
	poller := buses.NewPoller(database, cfg)

	log.Println("Running initial poll...")
	pollOnce(ctx, poller, database, cfg)

	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pollOnce(ctx, poller, database, cfg)
			case <-ctx.Done():
				log.Println("Polling loop stopped")
				return
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				log.Println("Running daily static data freshness check...")
				if err := static.RefreshIfStale(ctx, cfg, database); err != nil {
					log.Printf("Static refresh failed: %v", err)
				}
			case <-ctx.Done():
				log.Println("Static refresh loop stopped")
				return
			}
		}
	}()

	log.Printf("Poller running (poll every %v, retain %v)", cfg.PollInterval, cfg.RetentionDuration)

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Graceful Shutdown
	// ═══════════════════════════════════════════════════════
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	cancel()
	<-done
	<-done
	log.Println("Goodbye!")
}

func pollOnce(ctx context.Context, poller *buses.Poller, database *db.DB, cfg *config.Config) {
	if err := poller.Poll(ctx); err != nil {
		log.Printf("Bus poll error: %v", err)
	}

	if err := database.Cleanup(ctx, cfg.RetentionDuration); err != nil {
		log.Printf("Cleanup error: %v", err)
	}
}
