package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mooose/redacao-api/handlers"
	"github.com/mooose/redacao-api/middleware"
	"github.com/mooose/redacao-api/services"
)

func ReferralRoutes(app *fiber.App, h *handlers.ReferralHandler, limiter *services.RateLimiter) {
	api := app.Group("/api/v1")

	api.Get("/me/referral", middleware.Protected(), h.GetMyReferral)
	api.Post("/referrals/activate",
		middleware.Protected(),
		middleware.RateLimit(limiter, services.RateBucketActivate),
		h.ActivateReferral,
	)
}
