package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mooose/redacao-api/handlers"
	"github.com/mooose/redacao-api/middleware"
	"github.com/mooose/redacao-api/services"
)

func AuthRoutes(app *fiber.App, h *handlers.AuthHandler, limiter *services.RateLimiter) {
	api := app.Group("/api/v1")

	auth := api.Group("/auth")
	auth.Post("/register", middleware.RateLimit(limiter, services.RateBucketRegister), h.RegisterUser)
	auth.Post("/login", h.LoginUser)
	auth.Post("/verify-email", h.VerifyEmail)
}
