package geodata

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Resolver picks between a LAN backend and a remote one. The LAN address is
// probed once with a short timeout; the answer is cached until Reset.
type Resolver struct {
	local     string
	remote    string
	probePath string
	timeout   time.Duration
	client    *http.Client

	mu       sync.Mutex
	detected string
	inflight chan struct{}
}

// NewResolver creates a resolver. probePath is requested with HEAD on the local URL.
func NewResolver(local, remote, probePath string, timeout time.Duration) *Resolver {
	return &Resolver{
		local:     local,
		remote:    remote,
		probePath: probePath,
		timeout:   timeout,
		client:    &http.Client{},
	}
}

// BaseURL implements Endpoint. Concurrent callers share a single probe.
func (r *Resolver) BaseURL(ctx context.Context) string {
	r.mu.Lock()
	if r.detected != "" {
		url := r.detected
		r.mu.Unlock()
		return url
	}
	if ch := r.inflight; ch != nil {
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return r.remote
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.detected != "" {
			return r.detected
		}
		return r.remote
	}
	ch := make(chan struct{})
	r.inflight = ch
	r.mu.Unlock()

	url := r.remote
	if r.probe(ctx) {
		log.Printf("Endpoint: local API detected at %s", r.local)
		url = r.local
	} else {
		log.Printf("Endpoint: local API not reachable, using %s", r.remote)
	}

	// A cancelled caller says nothing about the LAN, so only a completed
	// check is remembered
	r.mu.Lock()
	if ctx.Err() == nil {
		r.detected = url
	}
	r.inflight = nil
	r.mu.Unlock()
	close(ch)

	return url
}

// Reset forces the next BaseURL call to probe again
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.detected = ""
	r.mu.Unlock()
	log.Println("Endpoint: API URL detection reset")
}

func (r *Resolver) probe(ctx context.Context) bool {
	if r.local == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.local+r.probePath, nil)
	if err != nil {
		return false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
