package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/checkin-mini/internal/proxy"
	"github.com/shehryarbajwa/checkin-mini/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(proxyServer *proxy.Server, limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Trigger endpoint carries rate-limit budget headers
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitHeaders(limiter))
	limited.HandleFunc("/checks", h.TriggerCheck).Methods("POST", "OPTIONS")

	// Session inspection endpoints (not rate limited - frequent polling)
	api.HandleFunc("/checks", h.ListChecks).Methods("GET")
	api.HandleFunc("/checks/{id}", h.GetCheck).Methods("GET")

	// Schedule endpoints
	api.HandleFunc("/schedule", h.GetSchedule).Methods("GET")
	api.HandleFunc("/schedule", h.SetSchedule).Methods("POST", "OPTIONS")

	// Auth record
	api.HandleFunc("/auth/state", h.GetAuthState).Methods("GET")

	// Liveness of the managed browser container
	api.HandleFunc("/health", h.GetHealth).Methods("GET")

	// Debug endpoint: raw DevTools websocket into the managed browser
	api.HandleFunc("/debug/ws", proxyServer.HandleDebugConnection).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
