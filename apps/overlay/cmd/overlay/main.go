package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cormacmadden/life-os/apps/overlay/internal/command"
	"github.com/cormacmadden/life-os/apps/overlay/internal/config"
	"github.com/cormacmadden/life-os/apps/overlay/internal/geodata"
	"github.com/cormacmadden/life-os/apps/overlay/internal/mapview"
	"github.com/cormacmadden/life-os/apps/overlay/internal/maprt"
	"github.com/cormacmadden/life-os/apps/overlay/internal/overlay"
	"github.com/cormacmadden/life-os/apps/overlay/internal/routes"
	"github.com/cormacmadden/life-os/apps/overlay/internal/server"
	"github.com/cormacmadden/life-os/internal/geo"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Base .env first, then .env.local overrides for local development
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	log.Println("Starting transit overlay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Config loaded: local_api=%s remote_api=%s auto_refresh=%v",
		cfg.LocalAPIURL, cfg.RemoteAPIURL, cfg.AutoRefreshInterval)

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Wire components
	// ═══════════════════════════════════════════════════════
	palette := routes.NewPalette(cfg.Profile.Palette, cfg.Profile.FallbackColor)
	manager := overlay.NewManager(palette)

	view := cfg.Profile.InitialView
	initial, _ := geo.BoundsOf([]geo.Point{
		{Lat: view.From[0], Lng: view.From[1]},
		{Lat: view.To[0], Lng: view.To[1]},
	})
	scene := mapview.NewScene(initial, view.Padding)
	hub := mapview.NewHub(scene)

	resolver := geodata.NewResolver(cfg.LocalAPIURL, cfg.RemoteAPIURL, cfg.ProbePath, cfg.ProbeTimeout)
	fetcher := geodata.NewFetcher(resolver)
	surface := command.NewSurface(fetcher, manager, nil)

	loader := maprt.NewLoader(maprt.Options{
		StyleURL:   cfg.Profile.Engine.StyleURL,
		ScriptURL:  cfg.Profile.Engine.ScriptURL,
		CacheDir:   cfg.CacheDir + "/engine",
		MaxAgeDays: cfg.EngineCacheDays,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Load data and map runtime
	// ═══════════════════════════════════════════════════════
	go func() {
		loader.EnsureLoaded(ctx)
		select {
		case <-loader.Done():
			manager.Attach(scene)
			log.Println("Overlay: map engine attached")
		default:
			// load failed; the manager stays detached and commands keep
			// retrying until they give up
		}
	}()

	go surface.Load(ctx)

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Optional live refresh loop
	// ═══════════════════════════════════════════════════════
	if cfg.AutoRefreshInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.AutoRefreshInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					surface.Refresh(ctx)
				case <-ctx.Done():
					log.Println("Refresh loop stopped")
					return
				}
			}
		}()
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Serve
	// ═══════════════════════════════════════════════════════
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.NewRouter(server.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Commands:       surface,
			Runtime:        loader,
			Scene:          scene,
			Hub:            hub,
			Context:        ctx,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Overlay server listening on :%s", cfg.Port)
		log.Println("  GET  /health, /scene, /ws, /assets/{name}")
		log.Println("  POST /api/overlay/refresh")
		log.Println("  POST /api/overlay/routes/{label}")
		log.Println("  POST /api/overlay/buses/{label}?destination=")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// ═══════════════════════════════════════════════════════
	// PHASE 5: Graceful Shutdown
	// ═══════════════════════════════════════════════════════
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	surface.Close()
	hub.Close()
	manager.Detach()
	loader.Close()
	log.Println("Goodbye!")
}
