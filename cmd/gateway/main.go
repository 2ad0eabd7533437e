package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/RathijitAich/HomeChatBack/internal/config"
	"github.com/RathijitAich/HomeChatBack/internal/routes"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Setup Fiber
	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.AppEnv != "development",
	})

	// Middleware
	if cfg.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowOrigins}))
	} else {
		app.Use(cors.New())
	}
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	streamClient, err := routes.RegisterRoutes(app, cfg)
	if err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}
	defer streamClient.Close()

	// 3. Start Server
	log.Printf("Gateway starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
