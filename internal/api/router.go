package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pingline/pingline/internal/api/middleware"
	"github.com/pingline/pingline/internal/presence"
	"github.com/pingline/pingline/internal/store"
	"github.com/pingline/pingline/internal/ws"
)

// NewRouter creates and configures the HTTP router. The realtime surface is
// a single websocket endpoint; the rest is operational (health, metrics).
func NewRouter(logger zerolog.Logger, st store.MessageStore, dir *presence.Directory, manager *ws.Manager) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the browser client connects from the social app's origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", healthHandler(st, dir))
	r.Get("/ws", manager.ServeWS)

	return r
}

// healthHandler reports store reachability and presence occupancy.
func healthHandler(st store.MessageStore, dir *presence.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		storeStatus := "ok"
		if err := st.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			storeStatus = "unreachable"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       storeStatus,
			"online_users": len(dir.ListOnline()),
		})
	}
}
