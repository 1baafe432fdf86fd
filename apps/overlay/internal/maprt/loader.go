// Package maprt acquires the map engine's style sheet and script exactly once
// and reports when the engine is ready to draw.
package maprt

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// AssetSpec names one engine resource and where to get it
type AssetSpec struct {
	Name        string
	URL         string
	ContentType string
}

// Asset is a loaded engine resource
type Asset struct {
	Name        string
	ContentType string
	Data        []byte
}

// Options configures a Loader
type Options struct {
	StyleURL  string
	ScriptURL string

	// CacheDir enables the on-disk cache when non-empty
	CacheDir   string
	MaxAgeDays int

	Client *http.Client
}

// Loader owns the engine resources. The zero value is not usable; call NewLoader.
type Loader struct {
	specs      []AssetSpec
	cacheDir   string
	maxAgeDays int
	client     *http.Client

	once sync.Once
	done chan struct{}

	mu     sync.RWMutex
	assets map[string]Asset
	ready  bool
	closed bool
	err    error
}

// NewLoader creates a loader for the given style sheet and script
func NewLoader(opts Options) *Loader {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Loader{
		specs: []AssetSpec{
			{Name: path.Base(opts.StyleURL), URL: opts.StyleURL, ContentType: "text/css; charset=utf-8"},
			{Name: path.Base(opts.ScriptURL), URL: opts.ScriptURL, ContentType: "application/javascript; charset=utf-8"},
		},
		cacheDir:   opts.CacheDir,
		maxAgeDays: opts.MaxAgeDays,
		client:     client,
		done:       make(chan struct{}),
	}
}

// EnsureLoaded loads both resources. Only the first call does any work; later
// calls return once that work has finished. A failed load is final.
func (l *Loader) EnsureLoaded(ctx context.Context) {
	l.once.Do(func() {
		assets, err := l.load(ctx)

		l.mu.Lock()
		defer l.mu.Unlock()

		if err != nil {
			l.err = err
			log.Printf("Map runtime: failed to load engine assets, overlay stays unavailable: %v", err)
			return
		}
		if l.closed {
			return
		}
		l.assets = assets
		l.ready = true
		close(l.done)
		log.Printf("Map runtime: engine ready (%d assets)", len(assets))
	})
}

// Ready reports whether both resources are loaded and not yet released
func (l *Loader) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready && !l.closed
}

// Done is closed once the engine becomes ready. It is never closed if loading fails.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// Err returns the load failure, if any
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Asset returns a loaded resource by name
func (l *Loader) Asset(name string) (Asset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready || l.closed {
		return Asset{}, false
	}
	a, ok := l.assets[name]
	return a, ok
}

// Names returns the resource names in load order (style sheet, then script)
func (l *Loader) Names() []string {
	names := make([]string, len(l.specs))
	for i, spec := range l.specs {
		names[i] = spec.Name
	}
	return names
}

// Close releases the loaded resources. The loader reports not-ready afterwards.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.ready = false
	l.assets = nil
	return nil
}

// Handler serves loaded resources by base name, 503 until the engine is ready
func (l *Loader) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Ready() {
			http.Error(w, "map engine not ready", http.StatusServiceUnavailable)
			return
		}
		asset, ok := l.Asset(path.Base(r.URL.Path))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", asset.ContentType)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(asset.Data)
	})
}

func (l *Loader) load(ctx context.Context) (map[string]Asset, error) {
	if l.cacheDir != "" && !isStaleOrMissing(l.cacheDir, l.maxAgeDays, l.specs) {
		assets, err := l.readCache()
		if err == nil {
			log.Println("Map runtime: using cached engine assets")
			return assets, nil
		}
		log.Printf("Map runtime: cache unreadable, downloading: %v", err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		assets = make(map[string]Asset, len(l.specs))
		errs   []error
	)
	for _, spec := range l.specs {
		wg.Add(1)
		go func(spec AssetSpec) {
			defer wg.Done()
			data, err := l.fetch(ctx, spec.URL)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", spec.Name, err))
				return
			}
			assets[spec.Name] = Asset{Name: spec.Name, ContentType: spec.ContentType, Data: data}
		}(spec)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errs[0]
	}

	if l.cacheDir != "" {
		if err := l.writeCache(assets); err != nil {
			log.Printf("Map runtime: failed to write engine cache: %v", err)
		}
	}

	return assets, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (l *Loader) readCache() (map[string]Asset, error) {
	assets := make(map[string]Asset, len(l.specs))
	for _, spec := range l.specs {
		data, err := os.ReadFile(filepath.Join(l.cacheDir, spec.Name))
		if err != nil {
			return nil, err
		}
		assets[spec.Name] = Asset{Name: spec.Name, ContentType: spec.ContentType, Data: data}
	}
	return assets, nil
}

func (l *Loader) writeCache(assets map[string]Asset) error {
	if err := os.MkdirAll(l.cacheDir, 0755); err != nil {
		return err
	}
	for _, a := range assets {
		if err := os.WriteFile(filepath.Join(l.cacheDir, a.Name), a.Data, 0644); err != nil {
			return err
		}
	}
	return writeManifest(l.cacheDir, l.specs)
}
