package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/trialguard-backend/internal/handlers"
)

// Deps carries the handlers and auth middleware the router mounts.
type Deps struct {
	Reports     *handlers.ReportHandler
	AdminTrials *handlers.AdminTrialsHandler
	AdminAuth   *handlers.AdminAuthHandler
	ReviewFeed  *handlers.ReviewFeedHandler

	RequireUser  func(http.Handler) http.Handler
	RequireAdmin func(http.Handler) http.Handler
	// GatedRateLimit is optional and only wraps the trial endpoints.
	GatedRateLimit func(http.Handler) http.Handler

	Ready   http.HandlerFunc
	Metrics http.Handler
}

func SetupRoutes(r chi.Router, d Deps) {
	// Health checks (no auth)
	r.Get("/health", handlers.Health)
	if d.Ready != nil {
		r.Get("/ready", d.Ready)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	// Trial-gated routes (end-user bearer token + X-Device-ID)
	r.Group(func(r chi.Router) {
		if d.GatedRateLimit != nil {
			r.Use(d.GatedRateLimit)
		}
		r.Use(d.RequireUser)
		r.Post("/api/trial/check", d.Reports.CheckTrial)
		r.Post("/api/reports/generate", d.Reports.GenerateReport)
	})

	// Admin auth routes (admin accounts are created with cmd/seed)
	r.Post("/api/admin/signin", d.AdminAuth.AdminSignin)
	r.Post("/api/admin/signout", d.AdminAuth.AdminSignout)

	// Abuse review routes
	r.Group(func(r chi.Router) {
		r.Use(d.RequireAdmin)
		r.Get("/api/admin/trials", d.AdminTrials.ListTrials)
		r.Post("/api/admin/trials/action", d.AdminTrials.ApplyAction)
		r.Get("/api/admin/trials/audit", d.AdminTrials.ListAudit)
	})

	// Live review feed authenticates inside the handler (browser WebSocket clients pass ?token=)
	r.Get("/ws/admin/review", d.ReviewFeed.ReviewWebSocket)
}
