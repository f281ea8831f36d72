package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	config "github.com/mooose/redacao-api/configs"
	"github.com/mooose/redacao-api/database"
	"github.com/mooose/redacao-api/handlers"
	"github.com/mooose/redacao-api/jobs"
	"github.com/mooose/redacao-api/notifications"
	"github.com/mooose/redacao-api/routes"
	"github.com/mooose/redacao-api/services"
	"github.com/robfig/cron/v3"
)

func main() {
	database.ConnectDB()
	database.Migrate()
	database.SeedAdmin()
	notifications.InitEmailService()

	referralService := services.NewReferralService(database.DB, services.ReferralConfig{
		RewardCredits: config.RewardCredits(),
		CodeLength:    config.CodeLength(),
		FrontendURL:   config.Config("FRONTEND_URL"),
	})
	limiter := services.NewRateLimiter(config.RateLimitRequests(), config.RateLimitWindow())

	c := cron.New()
	c.AddFunc("*/15 * * * *", func() { jobs.SweepPendingReferrals(referralService) })
	go c.Start()
	log.Println("✅ Cron job for referral sweep scheduled successfully.")

	app := fiber.New(fiber.Config{
		Prefork:       false,
		AppName:       "Mooose API",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "success",
			"message": "Welcome to Mooose API",
		})
	})

	authHandler := handlers.NewAuthHandler(referralService)
	referralHandler := handlers.NewReferralHandler(referralService)
	correctionsHandler := handlers.NewCorrectionsHandler(referralService)

	routes.AuthRoutes(app, authHandler, limiter)
	routes.ReferralRoutes(app, referralHandler, limiter)
	routes.CorrectionsRoutes(app, correctionsHandler)
	routes.ProfileRoutes(app)
	routes.AdminRoutes(app)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	log.Println("✅ Server is running on port 8080")
	err := app.Listen(":8080")
	if err != nil {
		log.Fatalf("🔥 Server failed to start: %v", err)
	}
}
