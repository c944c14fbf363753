package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/staff-store/internal/api/http/handlers"
	"github.com/spec-kit/staff-store/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health            *handlers.HealthHandler
	Session           *handlers.SessionHandler
	Staff             *handlers.StaffHandler
	Events            *handlers.EventsHandler
	SessionMiddleware *auth.SessionMiddleware
	// OpenWrites leaves mutating routes unguarded.
	OpenWrites bool
	// WritePermission guards mutating routes; empty only requires a session.
	WritePermission string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Get("/staff-data.json", cfg.Staff.Artifact)

	withSession := app.Group("", cfg.SessionMiddleware.Handle)

	authGroup := withSession.Group("/auth")
	authGroup.Post("/login", cfg.Session.Login)
	authGroup.Post("/logout", cfg.Session.Logout)
	authGroup.Get("/session", cfg.Session.Current)

	api := withSession.Group("/api")
	api.Get("/staff", cfg.Staff.List)
	api.Get("/staff/records/:id", cfg.Staff.Get)
	api.Get("/status", cfg.Staff.Status)
	api.Get("/events", cfg.Events.Stream)

	guard := writeGuard(cfg)
	api.Put("/staff", guard, cfg.Staff.Replace)
	api.Post("/staff/records", guard, cfg.Staff.Create)
	api.Put("/staff/records/:id", guard, cfg.Staff.Update)
	api.Delete("/staff/records/:id", guard, cfg.Staff.Delete)
	api.Post("/export", guard, cfg.Staff.Export)
}

func writeGuard(cfg RouteConfig) fiber.Handler {
	switch {
	case cfg.OpenWrites:
		return func(c *fiber.Ctx) error { return c.Next() }
	case cfg.WritePermission != "":
		return auth.RequirePermission(cfg.WritePermission)
	default:
		return auth.RequireSession()
	}
}
