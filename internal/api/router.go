package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/discordgate/discordgate/internal/config"
	"github.com/discordgate/discordgate/internal/metrics"
)

// Deps bundles the collaborators the router hands to handlers.
type Deps struct {
	Engine    Authorizer
	States    StateStore
	Users     UserGetter
	Discord   AuthURLBuilder
	Collector *metrics.Collector
	Gatherer  prometheus.Gatherer
}

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AppURL},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every auth endpoint costs a Discord API round trip, so they share a
	// strict per-IP limiter.
	authLimiter := NewRateLimiter(1, 5)
	authLimiter.CleanupOldLimiters()

	// OAuth2 login flow under the configured route prefix
	r.Route("/"+cfg.Discord.Prefix, func(r chi.Router) {
		r.Use(RateLimitMiddleware(authLimiter))

		r.Get("/login", HandleOAuthLogin(deps.States, deps.Discord))
		r.Get("/callback", HandleOAuthCallback(deps.Engine, deps.States, cfg, deps.Collector))
		r.Post("/logout", HandleLogout())
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret, deps.Users))

			r.Get("/user/me", HandleGetCurrentUser())
			r.Delete("/user/me", HandleDeleteAccount(deps.Engine, deps.Collector))
		})
	})

	// Prometheus metrics endpoint (no auth required)
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
