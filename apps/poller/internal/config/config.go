package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the poller service
type Config struct {
	// Database
	DatabasePath string

	// Real-time polling
	PollInterval      time.Duration
	RetentionDuration time.Duration

	// Static data refresh
	StaticRefreshDays int
	CacheDir          string

	// GTFS-RT vehicle positions
	GTFSVehiclePositionsURL string
	// FeedBoundingBox narrows the feed to "minLon,minLat,maxLon,maxLat" when set
	FeedBoundingBox string

	// GTFS static timetable
	GTFSStaticURL string

	// APIKey is sent as api_key to both feeds (Bus Open Data Service style)
	APIKey string

	// RelevantRoutes is used when user_config has no relevant routes
	RelevantRoutes []string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// Database
		DatabasePath: getEnv("SQLITE_DATABASE", "../../data/transit.db"),

		// Real-time polling
		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL", 30)) * time.Second,
		RetentionDuration: time.Duration(getEnvInt("RETENTION_HOURS", 1)) * time.Hour,

		// Static data refresh
		StaticRefreshDays: getEnvInt("STATIC_REFRESH_DAYS", 7),
		CacheDir:          getEnv("CACHE_DIR", "../../data/cache"),

		// Bus Open Data Service feeds. The default box covers Coventry,
		// Kenilworth and Leamington.
		GTFSVehiclePositionsURL: getEnv("GTFS_VEHICLE_POSITIONS_URL", "https://data.bus-data.dft.gov.uk/api/v1/gtfsrtdatafeed/"),
		FeedBoundingBox:         getEnv("GTFS_BOUNDING_BOX", "-1.75,52.20,-1.40,52.45"),
		GTFSStaticURL:           getEnv("GTFS_STATIC_URL", "https://data.bus-data.dft.gov.uk/timetable/download/gtfs-file/west_midlands/"),
		APIKey:                  getEnv("BODS_API_KEY", ""),

		// Comma-separated, e.g. "U1,11,U2"
		RelevantRoutes: getEnvList("RELEVANT_ROUTES"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
