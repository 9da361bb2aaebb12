package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/urnaweb/server/internal/auth"
	"github.com/urnaweb/server/internal/http/handlers"
	"github.com/urnaweb/server/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Auth   *handlers.AuthHandler
	Voting *handlers.VotingHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

// Options tunes the middleware stack
type Options struct {
	// AuthLimiter throttles POST /api/auth per connection peer; nil disables it.
	AuthLimiter middleware.Limiter
	// TrustProxy takes the peer address from X-Real-IP/X-Forwarded-For. Enable
	// only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, jwtService *auth.JWTService, opts Options) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.AuthLimiter != nil {
				r.Use(middleware.RateLimitMiddleware(opts.AuthLimiter, middleware.GetIPKey))
			}
			r.Post("/auth", h.Auth.HandleAuth)
		})
		r.Get("/session", h.Auth.HandleSession)
		r.Post("/logout", h.Auth.HandleLogout)

		r.Get("/questions", h.Voting.HandleQuestions)
		r.Get("/questions/{id}/options", h.Voting.HandleOptions)
		r.Get("/ballot", h.Voting.HandleBallot)
		r.Post("/votes", h.Voting.HandleCast)

		// Admin routes (require admin JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminMiddleware(jwtService))
			r.Get("/tally/{question_id}", h.Admin.HandleTally)
		})
	})

	return r
}
