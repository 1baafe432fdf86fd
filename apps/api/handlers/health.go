package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cormacmadden/life-os/apps/api/models"
)

// HealthRepository defines the interface for health checks
type HealthRepository interface {
	Ping(ctx context.Context) error
	GetDataFreshness(ctx context.Context) (*time.Time, int, error)
}

// HealthHandler handles HTTP requests for service health and data freshness
type HealthHandler struct {
	repo HealthRepository
	now  func() time.Time
}

// NewHealthHandler creates a new handler with the given repository
func NewHealthHandler(repo HealthRepository) *HealthHandler {
	return &HealthHandler{repo: repo, now: time.Now}
}

// Health handles GET /health with a database connectivity test
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": h.now().UTC(),
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"database":  "connected",
		"timestamp": h.now().UTC(),
	})
}

// Healthz handles GET /healthz, the cheap liveness probe the overlay uses to
// pick between local and remote backends
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// GetDataFreshness handles GET /api/health/data
// Returns how old the live vehicle snapshot is
func (h *HealthHandler) GetDataFreshness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	polledAt, count, err := h.repo.GetDataFreshness(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get data freshness", err)
		return
	}

	writeJSON(w, http.StatusOK, models.NewDataFreshness(polledAt, count, h.now().UTC()))
}
