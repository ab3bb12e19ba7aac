// Package api assembles the HTTP surface: middleware chain, REST routes
// and the websocket endpoint.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/handlers"
)

// RouterConfig wires the router's collaborators.
type RouterConfig struct {
	Logger  zerolog.Logger
	Handler *handlers.Handler
	Auth    *middleware.AuthMiddleware
	Limiter *middleware.RateLimiter // nil when Redis is not configured
	ServeWS http.HandlerFunc
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (needs Redis)
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}

	// CORS - allow all origins (browser clients connect from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := cfg.Handler

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Get("/stats", h.Stats)
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.RequireAuth)

		r.Post("/chats", h.AccessChat)
		r.Get("/chats", h.ListChats)
		r.Post("/chats/group", h.CreateGroup)
		r.Patch("/chats/rename", h.RenameChat)
		r.Put("/chats/groupadd", h.AddGroupMember)
		r.Put("/chats/groupremove", h.RemoveGroupMember)
		r.Get("/messages", h.History)
		r.Get("/users/search", h.SearchUsers)

		r.Get("/ws", cfg.ServeWS)
	})

	return r
}
