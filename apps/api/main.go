package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/cormacmadden/life-os/apps/api/handlers"
	"github.com/cormacmadden/life-os/apps/api/models"
	"github.com/cormacmadden/life-os/apps/api/repository"
)

// busStore is what both storage backends provide
type busStore interface {
	handlers.BusRepository
	handlers.HealthRepository
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load .env files from repository root
	// Load base .env first, then .env.local (which overrides for local development)
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local") // Overload forces override of existing values

	var store busStore
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		log.Println("Connecting to Postgres database")
		pg, err := repository.NewBusRepository(databaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize Postgres database: %v", err)
		}
		defer pg.Close()
		store = pg
	} else {
		// Default to ../../data/transit.db relative to the api directory
		dbPath := os.Getenv("SQLITE_DATABASE")
		if dbPath == "" {
			dbPath = "../../data/transit.db"
		}
		log.Printf("Connecting to SQLite database: %s", dbPath)

		sqliteDB, err := repository.NewSQLiteDB(dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite database: %v", err)
		}
		defer sqliteDB.Close()

		if err := sqliteDB.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to ensure database schema: %v", err)
		}
		store = repository.NewSQLiteBusRepository(sqliteDB.GetDB())
	}
	log.Println("Database connection established")

	defaults := defaultUserConfig()
	if err := defaults.Validate(); err != nil {
		log.Fatalf("Invalid user config in environment: %v", err)
	}

	busHandler := handlers.NewBusHandler(store, defaults)
	userHandler := handlers.NewUserHandler(store, defaults)
	healthHandler := handlers.NewHealthHandler(store)

	// Setup router
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(),
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/healthz", healthHandler.Healthz)
	r.Head("/healthz", healthHandler.Healthz)
	r.Get("/api/health/data", healthHandler.GetDataFreshness)

	r.Get("/api/user/config", userHandler.GetConfig)

	r.Get("/api/bus/stops", busHandler.GetStops)
	r.Get("/api/bus/stops/search", busHandler.SearchStops)
	r.Get("/api/bus/locations", busHandler.GetLocations)
	r.Get("/api/bus/routes", busHandler.GetRoutes)

	// Get port from environment variable, default to 8000
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	log.Printf("API server starting on :%s", port)
	log.Println("Bus endpoints:")
	log.Println("  GET /api/bus/stops")
	log.Println("  GET /api/bus/stops/search?lat=&lon=&radius=")
	log.Println("  GET /api/bus/locations[?force=true]")
	log.Println("  GET /api/bus/routes")
	log.Println("  GET /api/user/config")
	log.Println("Health:")
	log.Println("  GET /health (with database check), /healthz, /api/health/data")

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// defaultUserConfig reads the commute configuration used until a user_config
// row exists
func defaultUserConfig() models.UserConfig {
	return models.UserConfig{
		MorningBusStops: models.SplitList(os.Getenv("MORNING_STOPS")),
		EveningBusStops: models.SplitList(os.Getenv("EVENING_STOPS")),
		RelevantRoutes:  models.SplitList(os.Getenv("RELEVANT_ROUTES")),
		HomeLatitude:    envFloat("HOME_LATITUDE"),
		HomeLongitude:   envFloat("HOME_LONGITUDE"),
		WorkLatitude:    envFloat("WORK_LATITUDE"),
		WorkLongitude:   envFloat("WORK_LONGITUDE"),
	}
}

func envFloat(key string) *float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return nil
	}
	return &v
}

func allowedOrigins() []string {
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		return strings.Split(v, ",")
	}
	return []string{"http://localhost:3000"}
}
