package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the overlay service
type Config struct {
	// HTTP
	Port           string
	AllowedOrigins []string

	// Backend endpoint detection
	LocalAPIURL  string
	RemoteAPIURL string
	ProbePath    string
	ProbeTimeout time.Duration

	// Map engine assets
	CacheDir        string
	EngineCacheDays int

	// Periodic live refresh (0 disables it; refresh is then manual only)
	AutoRefreshInterval time.Duration

	// YAML profile (palette, engine asset URLs, initial view)
	ProfilePath string
	Profile     Profile
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8090"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		LocalAPIURL:  getEnv("LOCAL_API_URL", "http://192.168.4.28:8000"),
		RemoteAPIURL: getEnv("REMOTE_API_URL", "http://127.0.0.1:8000"),
		ProbePath:    getEnv("PROBE_PATH", "/healthz"),
		ProbeTimeout: getEnvDuration("PROBE_TIMEOUT", 500*time.Millisecond),

		CacheDir:        getEnv("CACHE_DIR", "/data/cache"),
		EngineCacheDays: getEnvInt("ENGINE_CACHE_DAYS", 30),

		AutoRefreshInterval: getEnvDuration("AUTO_REFRESH_INTERVAL", 0),

		ProfilePath: getEnv("OVERLAY_PROFILE", "overlay.yml"),
	}

	profile, err := LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	cfg.Profile = profile

	return cfg, nil
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

// getEnvDuration accepts Go duration strings ("750ms", "2m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
