package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mooose/redacao-api/handlers"
	"github.com/mooose/redacao-api/middleware"
)

func AdminRoutes(app *fiber.App) {
	api := app.Group("/api/v1")

	admin := api.Group("/admin", middleware.Protected(), middleware.AdminRequired())
	admin.Post("/users/:id/credits", handlers.GrantCredits)
}
