package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

// ActivityHandler serves the audit trail of a submission.
type ActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

// NewActivityHandler constructs an activity handler.
func NewActivityHandler(service service.ActivityService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register binds the activity route under the submissions group.
func (h *ActivityHandler) Register(router fiber.Router, auth fiber.Handler) {
	router.Get("/:id/activity", auth, submissionScoped(h.list))
}

func (h *ActivityHandler) list(c *fiber.Ctx, submissionID uint) error {
	var req dto.ActivityListRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, service.CodeValidationFailed, "invalid query parameters", nil)
	}

	result, err := h.service.List(middleware.RequestContext(c), submissionID, req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithMeta(c, fiber.StatusOK, "activity retrieved", result.Items, result.Pagination)
}
