// handlers/sessions.go
package handlers

import (
	"match-coordinator/apperrors"
	"match-coordinator/middleware"
	"match-coordinator/models"
	"match-coordinator/services"

	"github.com/gofiber/fiber/v2"
)

// SessionClearer ends a live session.
type SessionClearer interface {
	ClearSession(matchID string) error
}

// SetupSessionRoutes mounts the health check and the admin session API.
func SetupSessionRoutes(app *fiber.App, registry *services.Registry, clearer SessionClearer, adminToken string) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": registry.Len(),
		})
	})

	// 🔐 Admin routes
	admin := app.Group("/admin", middleware.AdminAuthMiddleware(adminToken))

	admin.Get("/sessions", func(c *fiber.Ctx) error {
		sessions := registry.Sessions()
		views := make([]models.SessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, s.Snapshot())
		}
		return c.JSON(fiber.Map{"sessions": views})
	})

	admin.Get("/sessions/:id", func(c *fiber.Ctx) error {
		s, ok := registry.Get(c.Params("id"))
		if !ok || s.Closed() {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		return c.JSON(s.Snapshot())
	})

	admin.Delete("/sessions/:id", func(c *fiber.Ctx) error {
		if err := clearer.ClearSession(c.Params("id")); err != nil {
			if apperrors.CodeOf(err).IsGone() {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
