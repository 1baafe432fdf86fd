// Package command is the overlay's command surface: the operations sibling
// widgets may invoke on the map.
package command

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cormacmadden/life-os/apps/overlay/internal/geodata"
	"github.com/cormacmadden/life-os/apps/overlay/internal/overlay"
)

const (
	maxAttempts = 5
	baseDelay   = 500 * time.Millisecond
	maxDelay    = 8 * time.Second
)

// Commands is what hosts hold to drive the overlay
type Commands interface {
	Refresh(ctx context.Context)
	ShowRoute(label string)
	ShowBusLocation(label, destination string)
}

// Clock schedules retry checks
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Source supplies fresh data. *geodata.Fetcher satisfies it.
type Source interface {
	Fetch(ctx context.Context, req geodata.Request) geodata.Result
}

// View is the rendering side. *overlay.Manager satisfies it.
type View interface {
	Ready() bool
	Apply(updates ...overlay.Update)
	FocusRoute(label string) error
	FocusVehicle(label, hint string) error
}

// Outcome is how a ShowBusLocation timeline ended
type Outcome int

const (
	Shown Outcome = iota
	NotFound
	GaveUp
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Shown:
		return "shown"
	case NotFound:
		return "not found"
	case GaveUp:
		return "gave up"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Backoff returns the wait before retry attempt n (1-based)
func Backoff(attempt int) time.Duration {
	d := baseDelay << (attempt - 1)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// Surface implements Commands
type Surface struct {
	source Source
	view   View
	clock  Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Commands = (*Surface)(nil)

// NewSurface wires a surface. A nil clock uses real time.
func NewSurface(source Source, view View, clock Clock) *Surface {
	if clock == nil {
		clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Surface{source: source, view: view, clock: clock, ctx: ctx, cancel: cancel}
}

// Load fetches what the overlay shows on mount: anchors, stops and routes.
// Live locations wait for the first Refresh.
func (s *Surface) Load(ctx context.Context) {
	res := s.source.Fetch(ctx, geodata.Request{Stops: true, Routes: true, Anchors: true})
	s.view.Apply(
		overlay.SetAnchors(res.Anchors),
		overlay.SetStops(res.Stops),
		overlay.SetRoutes(res.Routes),
	)
	log.Printf("Command: loaded %d stops and %d routes", len(res.Stops), len(res.Routes))
}

// Refresh forces fresh stops, vehicle locations and routes, then reconciles
// once after all of them have settled.
func (s *Surface) Refresh(ctx context.Context) {
	res := s.source.Fetch(ctx, geodata.Request{Stops: true, Vehicles: true, Routes: true, Force: true})
	s.view.Apply(
		overlay.SetStops(res.Stops),
		overlay.SetVehicles(res.Vehicles),
		overlay.SetRoutes(res.Routes),
	)
	log.Printf("Command: refreshed %d stops, %d vehicles, %d routes",
		len(res.Stops), len(res.Vehicles), len(res.Routes))
}

// ShowRoute highlights a route's static geometry. It does not wait for the map.
func (s *Surface) ShowRoute(label string) {
	if !s.view.Ready() {
		log.Printf("Command: map not loaded yet, dropping show route %s", label)
		return
	}
	if err := s.view.FocusRoute(label); err != nil {
		log.Printf("Command: show route %s: %v", label, err)
	}
}

// ShowBusLocation shows the first live vehicle on label heading towards
// destination (may be empty). If the map is not ready it retries in the
// background and eventually gives up silently.
func (s *Surface) ShowBusLocation(label, destination string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.showBusLocation(s.ctx, label, destination)
	}()
}

// showBusLocation runs one command timeline to completion
func (s *Surface) showBusLocation(ctx context.Context, label, destination string) Outcome {
	if !s.view.Ready() {
		log.Printf("Command: map not loaded yet, will retry...")
		ready := false
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			delay := Backoff(attempt)
			select {
			case <-ctx.Done():
				return Cancelled
			case <-s.clock.After(delay):
			}

			if s.view.Ready() {
				log.Printf("Command: map ready after %d attempts, showing bus", attempt)
				ready = true
				break
			}
			if attempt < maxAttempts {
				log.Printf("Command: map not ready, attempt %d/%d, retrying in %s...",
					attempt, maxAttempts, Backoff(attempt+1))
			}
		}
		if !ready {
			log.Printf("Command: map still not ready after %d attempts, giving up", maxAttempts)
			return GaveUp
		}
	}

	err := s.view.FocusVehicle(label, destination)
	switch {
	case err == nil:
		return Shown
	case errors.Is(err, overlay.ErrNotReady):
		// engine went away between the check and the draw
		log.Printf("Command: map closed before bus %s could be shown", label)
		return GaveUp
	default:
		log.Printf("Command: show bus %s: %v", label, err)
		return NotFound
	}
}

// Close cancels pending retries and waits for their goroutines
func (s *Surface) Close() {
	s.cancel()
	s.wg.Wait()
}
