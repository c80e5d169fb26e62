package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

// AttemptHandler resolves attempt codes typed by students.
type AttemptHandler struct {
	service service.AttemptService
	logger  zerolog.Logger
}

// NewAttemptHandler builds an attempt handler instance.
func NewAttemptHandler(service service.AttemptService, logger zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		service: service,
		logger:  logger.With().Str("component", "attempt_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *AttemptHandler) Register(router fiber.Router) {
	router.Get("/:code", h.resolve)
}

func (h *AttemptHandler) resolve(c *fiber.Ctx) error {
	attempt, err := h.service.Resolve(middleware.RequestContext(c), c.Params("code"), c.Query("email"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "attempt resolved", attempt)
}
