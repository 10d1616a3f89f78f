package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, authHandler *handlers.AuthHandler) {
	// Edge throttle in front of everything auth-shaped. The real
	// per-identifier counters live behind these handlers.
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/challenge/verify", authHandler.VerifyChallenge)
		r.Post("/auth/challenge/switch", authHandler.SwitchMethod)
		r.Post("/auth/challenge/resend", authHandler.ResendCode)
		r.Get("/auth/challenge/{token}", authHandler.ChallengeStatus)
	})

	// Internal surface for the session layer; not throttled by the auth
	// edge limit.
	router.Post("/auth/grant/introspect", authHandler.IntrospectGrant)
}
