package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

const codeForbidden = "FORBIDDEN"

var errorStatus = map[string]int{
	service.CodeInvalidCode:          fiber.StatusBadRequest,
	service.CodeValidationFailed:     fiber.StatusBadRequest,
	service.CodeNotFound:             fiber.StatusNotFound,
	service.CodeAlreadySubmitted:     fiber.StatusConflict,
	service.CodeExpiredOrNotStarted:  fiber.StatusForbidden,
	service.CodeIncompleteData:       fiber.StatusUnprocessableEntity,
	service.CodeEvaluationCooldown:   fiber.StatusTooManyRequests,
	service.CodeEmptyAnswer:          fiber.StatusBadRequest,
	service.CodeStaleRevision:        fiber.StatusConflict,
	service.CodeEvaluatorUnavailable: fiber.StatusServiceUnavailable,
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// respondError translates a service error into the API error envelope.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	code := service.ErrorCode(err)
	status, ok := errorStatus[code]
	if !ok {
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, service.CodeInternal, "internal server error", nil)
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]fieldError, 0, len(validationErrors))
		for _, fe := range validationErrors {
			details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
		return utils.SendErrorCode(c, status, code, "validation failed", details)
	}

	return utils.SendErrorCode(c, status, code, err.Error(), nil)
}

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	value := strings.TrimSpace(c.Params(key))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(parsed), nil
}

type submissionHandlerFunc func(c *fiber.Ctx, submissionID uint) error

// submissionScoped parses the :id path parameter and checks it against the token subject.
func submissionScoped(next submissionHandlerFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseUintParam(c, "id")
		if err != nil {
			return utils.SendErrorCode(c, fiber.StatusBadRequest, service.CodeValidationFailed, err.Error(), nil)
		}
		tokenSubmission, ok := middleware.SubmissionFromLocals(c)
		if !ok || tokenSubmission != id {
			return utils.SendErrorCode(c, fiber.StatusForbidden, codeForbidden, "token does not grant access to this submission", nil)
		}
		return next(c, id)
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := middleware.RequestLogger(c, base)
	return &logger
}
