package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/harborgrid/sessiond/internal/handlers"
	"github.com/harborgrid/sessiond/internal/middleware"
)

// RegisterRoutes registers all application routes.
//
// Routes that can change security posture (logout, logout-all, refresh,
// verification, device trust) always re-read the session from the store,
// bypassing the cache.
func RegisterRoutes(
	router chi.Router,
	sessionHandler *handlers.SessionHandler,
	deviceHandler *handlers.DeviceHandler,
	pipeline *middleware.SessionPipeline,
) {
	// Session establishment is the only unauthenticated endpoint.
	router.With(middleware.RateLimitByIP(middleware.DefaultCreateRateLimit())).
		Post("/sessions", sessionHandler.Create)

	// Routine reads and liveness signals may serve from cache.
	router.Group(func(r chi.Router) {
		r.Use(pipeline.RequireSession(false))

		r.Get("/sessions", sessionHandler.List)
		r.Get("/sessions/current", sessionHandler.GetCurrent)
		r.Patch("/sessions/current", sessionHandler.UpdateCurrent)
		r.Get("/sessions/current/events", sessionHandler.Events)

		r.With(middleware.RateLimitBySession(middleware.DefaultHeartbeatRateLimit())).
			Post("/sessions/heartbeat", sessionHandler.Heartbeat)
	})

	// Security-sensitive operations bypass the cache and hit the store.
	router.Group(func(r chi.Router) {
		r.Use(pipeline.RequireSession(true))

		r.Post("/sessions/invalidate-all", sessionHandler.InvalidateAll)
		r.Delete("/sessions/current", sessionHandler.DeleteCurrent)
		r.Post("/sessions/current/refresh", sessionHandler.Refresh)
		r.Post("/sessions/current/verify", sessionHandler.RequestVerification)
		r.Put("/sessions/current/verify", sessionHandler.Verify)

		r.Get("/sessions/devices", deviceHandler.List)
		r.Post("/sessions/devices/trust", deviceHandler.GrantTrust)
		r.Post("/sessions/devices/verify", deviceHandler.VerifyTrust)
		r.Post("/sessions/devices/revoke", deviceHandler.RevokeTrust)
	})
}
