package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/temphist/temphist/internal/debounce"
)

// NewApp builds the Fiber application: global middleware, the health
// endpoint, and the API routes.
func NewApp(ldr DatasetLoader, deb *debounce.Debouncer, resolver LocationResolver) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "temphist",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// A cold records load can poll the upstream for minutes before the
		// response is written.
		WriteTimeout: 10 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware. The browser UI is served from a different origin,
	// so every endpoint needs CORS headers.
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "temphist",
		})
	})

	RegisterRoutes(app, ldr, deb, resolver)
	return app
}
