package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/question"
	"github.com/noah-isme/gema-question-engine/internal/service"
	"github.com/noah-isme/gema-question-engine/internal/utils"
)

// errorStatus maps engine and service errors to an HTTP status.
func errorStatus(err error) int {
	switch {
	case isValidationError(err):
		return fiber.StatusBadRequest
	case errors.Is(err, engine.ErrUsageNotFound),
		errors.Is(err, engine.ErrQuestionNotFound),
		errors.Is(err, engine.ErrSlotNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, engine.ErrNotStarted),
		errors.Is(err, engine.ErrAlreadyStarted):
		return fiber.StatusConflict
	case errors.Is(err, engine.ErrMarkOutOfRange),
		errors.Is(err, engine.ErrInvalidMark):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidSlotList),
		errors.Is(err, engine.ErrInvalidDisplayOption),
		errors.Is(err, service.ErrUnknownBehaviour),
		errors.Is(err, question.ErrUnknownQuestionType),
		errors.Is(err, question.ErrInvalidDefinition):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, logger zerolog.Logger, err error, message string) error {
	status := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		requestLogger(logger, c).Error().Err(err).Msg(message)
		return utils.SendError(c, status, "internal server error")
	}
	if isValidationError(err) {
		return utils.Fail(c, status, "validation failed", validationDetails(err))
	}
	return utils.SendError(c, status, err.Error())
}
