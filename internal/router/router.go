package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-question-engine/internal/config"
	"github.com/noah-isme/gema-question-engine/internal/handler"
	"github.com/noah-isme/gema-question-engine/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	QuestionHandler *handler.QuestionHandler
	UsageHandler    *handler.UsageHandler
	JWTMiddleware   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.QuestionHandler != nil {
		deps.QuestionHandler.Register(api.Group("/questions", jwtMiddleware))
	}

	if deps.UsageHandler != nil {
		deps.UsageHandler.Register(api.Group("/usages", jwtMiddleware))
	}
}
