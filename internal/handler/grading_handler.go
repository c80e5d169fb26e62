package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

// GradingHandler exposes AI evaluation of a stored answer.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the evaluate route behind the token and the limiter.
func (h *GradingHandler) Register(router fiber.Router, auth, limiter fiber.Handler) {
	handlers := []fiber.Handler{auth}
	if limiter != nil {
		handlers = append(handlers, limiter)
	}
	handlers = append(handlers, submissionScoped(h.evaluate))
	router.Post("/:id/answers/:questionId/evaluate", handlers...)
}

func (h *GradingHandler) evaluate(c *fiber.Ctx, submissionID uint) error {
	questionID, err := parseUintParam(c, "questionId")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, service.CodeValidationFailed, err.Error(), nil)
	}

	result, err := h.service.Evaluate(middleware.RequestContext(c), submissionID, questionID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "answer evaluated", result)
}
