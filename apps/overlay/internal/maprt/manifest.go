package maprt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const manifestName = "manifest.json"

// Manifest describes what the on-disk engine cache holds
type Manifest struct {
	UpdatedAt string `json:"updated_at"`
	// Sources maps cached file names to the URL they were downloaded from
	Sources map[string]string `json:"sources"`
}

// isStaleOrMissing reports whether the cache in dir must be refreshed: the
// manifest is missing, unreadable, older than maxAgeDays, or was written for
// different source URLs.
func isStaleOrMissing(dir string, maxAgeDays int, specs []AssetSpec) bool {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return true
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return true
	}

	updatedAt, err := time.Parse(time.RFC3339, manifest.UpdatedAt)
	if err != nil {
		return true
	}

	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	if time.Since(updatedAt) > maxAge {
		return true
	}

	for _, spec := range specs {
		if manifest.Sources[spec.Name] != spec.URL {
			return true
		}
		if _, err := os.Stat(filepath.Join(dir, spec.Name)); err != nil {
			return true
		}
	}

	return false
}

func writeManifest(dir string, specs []AssetSpec) error {
	manifest := Manifest{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Sources:   make(map[string]string, len(specs)),
	}
	for _, spec := range specs {
		manifest.Sources[spec.Name] = spec.URL
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName), data, 0644)
}
