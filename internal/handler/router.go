/*
Package handler provides the HTTP handlers and routing setup for the collaboration server.

This file defines the main Router, applying logging, CORS, and IP-based handshake
rate limiting before delegating to the health and WebSocket handlers. The REST
surface is intentionally tiny: token issuance, persistence, and import pipelines
live in external services.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"codecollab/internal/pkg/limiter"
	"codecollab/internal/pkg/logx"
	"codecollab/internal/pkg/resp"
)

// Router sets up the HTTP routing table (chi.Router) for the application.
// It initializes the handshake rate limiter, configures CORS and the WebSocket
// origin check, and applies global middleware.
func Router(deps *AppDeps) http.Handler {
	handshakeLimiter := limiter.NewIPRateLimiter(rate.Limit(deps.Config.HandshakeRate), deps.Config.HandshakeBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.Environment == "development" {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":      "ok",
			"service":     "codecollab",
			"connections": deps.Hub.ConnectionCount(),
			"rooms":       deps.Hub.Registry().RoomCount(),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Get("/ws", HandleWebSocket(wsUpgrader, handshakeLimiter, deps))

	return r
}
