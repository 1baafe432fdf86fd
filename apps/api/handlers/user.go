package handlers

import (
	"context"
	"net/http"

	"github.com/cormacmadden/life-os/apps/api/models"
)

// UserConfigRepository reads the single user configuration row
type UserConfigRepository interface {
	GetUserConfig(ctx context.Context) (*models.UserConfig, error)
}

// UserHandler handles HTTP requests for the user's commute configuration
type UserHandler struct {
	repo     UserConfigRepository
	defaults models.UserConfig
}

// NewUserHandler creates a new handler with the given repository
func NewUserHandler(repo UserConfigRepository, defaults models.UserConfig) *UserHandler {
	return &UserHandler{repo: repo, defaults: defaults}
}

// GetConfig handles GET /api/user/config
func (h *UserHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := loadUserConfig(r.Context(), h.repo, h.defaults)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user config", err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, cfg)
}
