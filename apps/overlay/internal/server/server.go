// Package server exposes the overlay to the dashboard over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/cormacmadden/life-os/apps/overlay/internal/command"
	"github.com/cormacmadden/life-os/apps/overlay/internal/mapview"
)

// Runtime is the part of the map runtime loader the server reports on
type Runtime interface {
	Ready() bool
	Err() error
	Handler() http.Handler
}

// Options wires the server's collaborators
type Options struct {
	AllowedOrigins []string
	Commands       command.Commands
	Runtime        Runtime
	Scene          *mapview.Scene
	Hub            http.Handler
	// Context scopes refreshes requested over HTTP. It is cancelled on
	// shutdown and carries no deadline, so live-data fetches never time out
	// on the client side. Defaults to context.Background().
	Context context.Context
}

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type acceptedResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
	Route   string `json:"route,omitempty"`
}

// NewRouter builds the overlay's HTTP routes
func NewRouter(opts Options) http.Handler {
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":    "ok",
			"runtime":   "ready",
			"timestamp": time.Now().UTC(),
		}
		status := http.StatusOK
		if !opts.Runtime.Ready() {
			body["status"] = "degraded"
			body["runtime"] = "loading"
			if err := opts.Runtime.Err(); err != nil {
				body["runtime"] = "failed"
				body["error"] = err.Error()
			}
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, body)
	})

	r.Handle("/assets/*", http.StripPrefix("/assets", opts.Runtime.Handler()))

	r.Get("/scene", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, opts.Scene.Snapshot())
	})
	r.Handle("/ws", opts.Hub)

	r.Route("/api/overlay", func(r chi.Router) {
		r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
			// Detached from the request so a dropped client does not abort the refresh
			go opts.Commands.Refresh(opts.Context)
			writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Command: "refresh"})
		})

		r.Post("/routes/{label}", func(w http.ResponseWriter, r *http.Request) {
			label := chi.URLParam(r, "label")
			if label == "" {
				writeError(w, http.StatusBadRequest, "Route label is required", "")
				return
			}
			opts.Commands.ShowRoute(label)
			writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Command: "show_route", Route: label})
		})

		r.Post("/buses/{label}", func(w http.ResponseWriter, r *http.Request) {
			label := chi.URLParam(r, "label")
			if label == "" {
				writeError(w, http.StatusBadRequest, "Route label is required", "")
				return
			}
			opts.Commands.ShowBusLocation(label, r.URL.Query().Get("destination"))
			writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Command: "show_bus_location", Route: label})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
