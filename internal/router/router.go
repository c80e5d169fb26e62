package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/config"
	"github.com/noah-isme/gema-eval-api/internal/handler"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/observability"
)

const (
	evaluateLimit  = 6
	evaluateWindow = time.Minute
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AttemptHandler    *handler.AttemptHandler
	SubmissionHandler *handler.SubmissionHandler
	GradingHandler    *handler.GradingHandler
	ActivityHandler   *handler.ActivityHandler
	SessionHandler    *handler.SessionHandler
	// AuthMiddleware validates submission tokens. Defaults to middleware.SubmissionToken(cfg.JWTSecret).
	AuthMiddleware fiber.Handler
	// EvaluateLimiter throttles AI evaluations. Defaults to a per-submission limiter.
	EvaluateLimiter fiber.Handler
	DB              *gorm.DB
	Redis           *redis.Client
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	api.Get("/ready", handler.ReadinessCheck(cfg, deps.DB, deps.Redis))

	auth := deps.AuthMiddleware
	if auth == nil {
		auth = middleware.SubmissionToken(cfg.JWTSecret)
	}
	limiter := deps.EvaluateLimiter
	if limiter == nil {
		limiter = middleware.RateLimit("evaluate", evaluateLimit, evaluateWindow)
	}

	if deps.AttemptHandler != nil {
		deps.AttemptHandler.Register(api.Group("/attempts"))
	}

	submissions := api.Group("/submissions")
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(submissions, auth)
	}
	if deps.GradingHandler != nil {
		deps.GradingHandler.Register(submissions, auth, limiter)
	}
	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(submissions, auth)
	}

	if deps.SessionHandler != nil {
		deps.SessionHandler.Register(api.Group("/sessions"))
	}
}
