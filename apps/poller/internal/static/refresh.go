package static

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cormacmadden/life-os/apps/poller/internal/config"
	"github.com/cormacmadden/life-os/apps/poller/internal/db"
	"github.com/cormacmadden/life-os/apps/poller/internal/static/gtfs"
)

// generatorVersion is bumped whenever the import changes shape, forcing a
// re-import regardless of manifest age
const generatorVersion = "1"

const (
	manifestName = "gtfs_manifest.json"
	archiveName  = "gtfs_static.zip"
)

// Manifest records when the timetable was last imported
type Manifest struct {
	UpdatedAt        string `json:"updated_at,omitempty"`
	GeneratedAt      string `json:"generated_at,omitempty"` // legacy name for updated_at
	GeneratorVersion string `json:"generator_version,omitempty"`
	Source           string `json:"source,omitempty"`
}

// RefreshIfStale re-imports the GTFS timetable when the manifest is missing,
// older than STATIC_REFRESH_DAYS or written by another generator version
func RefreshIfStale(ctx context.Context, cfg *config.Config, database *db.DB) error {
	manifestPath := filepath.Join(cfg.CacheDir, manifestName)

	// Check if refresh is needed. A generator version change forces a
	// re-import even when the data is recent.
	if !isStaleOrMissing(manifestPath, cfg.StaticRefreshDays) &&
		getStoredGeneratorVersion(manifestPath) == generatorVersion {
		log.Println("Static data is fresh, skipping refresh")
		return nil
	}

	log.Println("Refreshing GTFS static data...")
	if err := Refresh(ctx, cfg, database); err != nil {
		return err
	}
	log.Println("GTFS static data refreshed successfully")
	return nil
}

// Refresh downloads, parses and imports the timetable unconditionally, then
// writes a new manifest
func Refresh(ctx context.Context, cfg *config.Config, database *db.DB) error {
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Download GTFS zip
	zipPath := filepath.Join(cfg.CacheDir, archiveName)
	if err := gtfs.Download(ctx, cfg.GTFSStaticURL, zipPath, cfg.APIKey); err != nil {
		return err
	}

	// Parse and import into the database
	if err := ImportFile(ctx, database, zipPath); err != nil {
		return err
	}

	// Write the manifest last so a failed import is retried next start
	return writeManifest(filepath.Join(cfg.CacheDir, manifestName), Manifest{
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339),
		GeneratorVersion: generatorVersion,
		Source:           cfg.GTFSStaticURL,
	})
}

// ImportFile parses a GTFS zip and replaces the timetable tables with it
func ImportFile(ctx context.Context, database *db.DB, zipPath string) error {
	data, err := gtfs.Parse(zipPath)
	if err != nil {
		return err
	}
	// An empty archive would wipe the timetable, keep the old one instead
	if len(data.Routes) == 0 {
		return fmt.Errorf("GTFS archive %s has no routes", zipPath)
	}
	return database.ReplaceStatic(ctx, BuildImport(data))
}

func isStaleOrMissing(manifestPath string, maxAgeDays int) bool {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return true
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return true
	}

	// Older manifests only carry generated_at
	stamp := manifest.UpdatedAt
	if stamp == "" {
		stamp = manifest.GeneratedAt
	}
	updatedAt, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return true
	}

	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	return time.Since(updatedAt) > maxAge
}

func getStoredGeneratorVersion(manifestPath string) string {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return ""
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ""
	}
	return manifest.GeneratorVersion
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
