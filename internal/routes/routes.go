package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/handlers"
	"github.com/AnshRaj112/techphono-security/internal/metrics"
	"github.com/AnshRaj112/techphono-security/internal/middleware"
	"github.com/AnshRaj112/techphono-security/internal/services"
)

func SetupRoutes(r chi.Router, h *handlers.Handler, engine *services.Engine, cfg *config.Config, m *metrics.Metrics) {
	r.Get("/health", h.Health)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	requireSession := middleware.RequireSession(engine.Auth)
	requireAdmin := middleware.RequireAdmin(cfg.IsAdmin)

	// Auth
	r.Post("/auth/login", h.Login)
	r.Post("/auth/logout", h.Logout)
	r.Post("/auth/register", h.Register)
	r.Get("/auth/session", h.SessionInfo)
	r.Post("/auth/session", h.RefreshSession)
	r.With(requireSession).Get("/auth/csrf", h.CSRFToken)

	// App plumbing
	r.Post("/gate/validate", h.ValidateRequest)
	r.Post("/lifecycle", h.Lifecycle)

	// Admin
	r.Route("/admin", func(r chi.Router) {
		r.Use(requireSession, requireAdmin)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/events", h.Events)
		r.Get("/alerts", h.Alerts)
		r.Get("/lockouts", h.Lockouts)
		r.Delete("/lockouts/{identifier}", h.ClearLockout)
		r.Get("/blocked", h.Blocked)
		r.Delete("/blocked/{identifier}", h.Unblock)
		r.Get("/checks", h.Checks)
		r.Get("/verify", h.VerifyLog)
		r.Post("/cleanup", h.Cleanup)
	})

	r.With(requireSession, requireAdmin).Get("/ws/alerts", h.AlertStream)
}
