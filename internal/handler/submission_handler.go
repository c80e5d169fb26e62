package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

// SubmissionHandler manages the submission lifecycle endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes. Everything except bootstrap requires the submission token.
func (h *SubmissionHandler) Register(router fiber.Router, auth fiber.Handler) {
	router.Post("", h.start)

	router.Get("/:id", auth, submissionScoped(h.get))
	router.Get("/:id/answers", auth, submissionScoped(h.listAnswers))
	router.Put("/:id/answers", auth, submissionScoped(h.saveAnswers))
	router.Put("/:id/answers/:questionId", auth, submissionScoped(h.saveAnswer))
	router.Post("/:id/score", auth, submissionScoped(h.recalculate))
	router.Post("/:id/submit", auth, submissionScoped(h.submit))
}

func (h *SubmissionHandler) start(c *fiber.Ctx) error {
	var payload dto.SubmissionStartRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, service.CodeValidationFailed, "invalid request body", nil)
	}

	started, err := h.service.Start(middleware.RequestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission ready", started)
}

func (h *SubmissionHandler) get(c *fiber.Ctx, submissionID uint) error {
	submission, err := h.service.Get(middleware.RequestContext(c), submissionID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) listAnswers(c *fiber.Ctx, submissionID uint) error {
	answers, err := h.service.ListAnswers(middleware.RequestContext(c), submissionID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "answers retrieved", answers)
}

func (h *SubmissionHandler) saveAnswer(c *fiber.Ctx, submissionID uint) error {
	questionID, err := parseUintParam(c, "questionId")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, service.CodeValidationFailed, err.Error(), nil)
	}

	var payload dto.AnswerSaveRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, service.CodeValidationFailed, "invalid request body", nil)
	}

	saved, err := h.service.SaveAnswer(middleware.RequestContext(c), submissionID, questionID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "answer saved", saved)
}

func (h *SubmissionHandler) saveAnswers(c *fiber.Ctx, submissionID uint) error {
	var payload dto.AnswerBatchRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, service.CodeValidationFailed, "invalid request body", nil)
	}

	saved, err := h.service.SaveAnswers(middleware.RequestContext(c), submissionID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "answers saved", saved)
}

func (h *SubmissionHandler) recalculate(c *fiber.Ctx, submissionID uint) error {
	score, err := h.service.RecalculateScore(middleware.RequestContext(c), submissionID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "score recalculated", dto.ScoreResponse{SubmissionID: submissionID, Score: score})
}

func (h *SubmissionHandler) submit(c *fiber.Ctx, submissionID uint) error {
	result, err := h.service.Submit(middleware.RequestContext(c), submissionID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	message := "submission finalized"
	if result.AlreadySubmitted {
		message = "submission already finalized"
	}
	return utils.SendSuccess(c, message, result)
}
