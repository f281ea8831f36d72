package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mooose/redacao-api/handlers"
	"github.com/mooose/redacao-api/middleware"
)

func CorrectionsRoutes(app *fiber.App, h *handlers.CorrectionsHandler) {
	api := app.Group("/api/v1")

	corrections := api.Group("/corrections", middleware.Protected())
	corrections.Post("/complete", h.CompleteCorrection)
}
