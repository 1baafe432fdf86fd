package gtfs

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var downloadClient = &http.Client{Timeout: 5 * time.Minute}

// Download fetches a GTFS zip to destPath. An optional apiKey is sent as the
// api_key query parameter. The file is written to a temporary path first so a
// failed download never replaces a good archive.
func Download(ctx context.Context, url, destPath, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if apiKey != "" {
		q := req.URL.Query()
		q.Set("api_key", apiKey)
		req.URL.RawQuery = q.Encode()
	}

	log.Printf("GTFS: downloading %s", url)
	resp, err := downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GTFS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GTFS download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), "gtfs-*.zip.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write GTFS zip: %w", err)
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to move GTFS zip into place: %w", err)
	}

	log.Printf("GTFS: downloaded %d bytes to %s", n, destPath)
	return nil
}
