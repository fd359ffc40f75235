package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-question-engine/internal/dto"
	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/middleware"
	"github.com/noah-isme/gema-question-engine/internal/service"
	"github.com/noah-isme/gema-question-engine/internal/utils"
)

// UsageHandler exposes question usages: attempting, grading and review.
type UsageHandler struct {
	service       service.UsageService
	actionLimiter fiber.Handler
	logger        zerolog.Logger
}

// NewUsageHandler constructs the handler. A nil limiter disables rate limiting of actions.
func NewUsageHandler(service service.UsageService, actionLimiter fiber.Handler, logger zerolog.Logger) *UsageHandler {
	if actionLimiter == nil {
		actionLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &UsageHandler{
		service:       service,
		actionLimiter: actionLimiter,
		logger:        logger.With().Str("component", "usage_handler").Logger(),
	}
}

// Register attaches routes. Deleting a usage drops its history and is limited to admins.
func (h *UsageHandler) Register(router fiber.Router) {
	user := middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}
	staff := middleware.AuthOptions{Role: middleware.AuthRoleStaff}

	router.Post("", middleware.WithAuth(h.create, user))
	router.Get("/:id", middleware.WithAuth(h.get, user))
	router.Delete("/:id", middleware.RequireRole("admin"), middleware.WithAuth(h.delete, staff))
	router.Post("/:id/actions", h.actionLimiter, middleware.WithAuth(h.processActions, user))
	router.Post("/:id/finish", h.actionLimiter, middleware.WithAuth(h.finish, user))
	router.Post("/:id/regrade", middleware.WithAuth(h.regradeAll, staff))
	router.Post("/:id/questions/:slot/grade", middleware.WithAuth(h.manualGrade, staff))
	router.Post("/:id/questions/:slot/regrade", middleware.WithAuth(h.regrade, staff))
	router.Patch("/:id/questions/:slot/flag", middleware.WithAuth(h.setFlag, user))
}

func (h *UsageHandler) create(c *fiber.Ctx) error {
	var payload dto.UsageCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Create(c.UserContext(), payload, actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to create usage")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "usage created", created)
}

func (h *UsageHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	options, err := displayOptionsFromQuery(c)
	if err != nil {
		return respondError(c, h.logger, err, "invalid display options")
	}
	if middleware.UserRole(c) == "student" {
		options.History = engine.Hidden
	}

	usage, err := h.service.Get(c.UserContext(), int64(id), options)
	if err != nil {
		return respondError(c, h.logger, err, "failed to fetch usage")
	}

	return utils.SendSuccess(c, "usage retrieved", usage)
}

func (h *UsageHandler) processActions(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := actionPayload(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.ProcessActions(c.UserContext(), int64(id), payload, actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to process actions")
	}

	return utils.SendSuccess(c, "actions processed", result)
}

func (h *UsageHandler) finish(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Finish(c.UserContext(), int64(id), actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to finish usage")
	}

	return utils.SendSuccess(c, "usage finished", result)
}

func (h *UsageHandler) manualGrade(c *fiber.Ctx) error {
	id, slot, err := usageSlotParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ManualGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	view, err := h.service.ManualGrade(c.UserContext(), int64(id), slot, payload, actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to grade attempt")
	}

	return utils.SendSuccess(c, "attempt graded", view)
}

func (h *UsageHandler) regrade(c *fiber.Ctx) error {
	id, slot, err := usageSlotParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RegradeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	view, err := h.service.Regrade(c.UserContext(), int64(id), slot, payload, actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to regrade attempt")
	}

	return utils.SendSuccess(c, "attempt regraded", view)
}

func (h *UsageHandler) regradeAll(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.RegradeAll(c.UserContext(), int64(id), actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to regrade usage")
	}

	return utils.SendSuccess(c, "usage regraded", result)
}

func (h *UsageHandler) setFlag(c *fiber.Ctx) error {
	id, slot, err := usageSlotParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.FlagRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	view, err := h.service.SetFlag(c.UserContext(), int64(id), slot, payload.Flagged, actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to flag attempt")
	}

	return utils.SendSuccess(c, "flag updated", view)
}

func (h *UsageHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(c.UserContext(), int64(id), actorFromContext(c)); err != nil {
		return respondError(c, h.logger, err, "failed to delete usage")
	}

	return utils.SendSuccess(c, "usage deleted", nil)
}

func usageSlotParams(c *fiber.Ctx) (uint, int, error) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return 0, 0, err
	}
	slot, err := parseSlotParam(c)
	if err != nil {
		return 0, 0, err
	}
	return id, slot, nil
}

// actionPayload reads a flat field map from a form or a JSON object.
// JSON numbers and booleans are converted to their string form.
func actionPayload(c *fiber.Ctx) (map[string]string, error) {
	payload := map[string]string{}

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationForm) {
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			payload[string(key)] = string(value)
		})
		return payload, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(c.Body(), &raw); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}
	for name, value := range raw {
		switch v := value.(type) {
		case string:
			payload[name] = v
		case bool:
			if v {
				payload[name] = "1"
			} else {
				payload[name] = "0"
			}
		case float64:
			payload[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			payload[name] = ""
		default:
			return nil, fmt.Errorf("field %q must be a scalar", name)
		}
	}
	return payload, nil
}

// displayOptionsFromQuery starts from the defaults and applies query overrides.
func displayOptionsFromQuery(c *fiber.Ctx) (engine.DisplayOptions, error) {
	options := engine.DefaultDisplayOptions()

	if marks := c.Query("marks"); marks != "" {
		parsed, err := engine.ParseMarkDisplay(marks)
		if err != nil {
			return options, err
		}
		options.Marks = parsed
	}
	if flags := c.Query("flags"); flags != "" {
		parsed, err := engine.ParseFlagDisplay(flags)
		if err != nil {
			return options, err
		}
		options.Flags = parsed
	}
	if decimals := c.Query("decimals"); decimals != "" {
		parsed, err := strconv.Atoi(decimals)
		if err != nil || parsed < 0 || parsed > 7 {
			return options, fmt.Errorf("%w: decimals %q", engine.ErrInvalidDisplayOption, decimals)
		}
		options.MarkDecimals = parsed
	}

	toggles := map[string]*engine.Visibility{
		"feedback":         &options.Feedback,
		"general_feedback": &options.GeneralFeedback,
		"right_answer":     &options.RightAnswer,
		"correctness":      &options.Correctness,
		"manual_comment":   &options.ManualComment,
		"history":          &options.History,
	}
	for name, target := range toggles {
		value := c.Query(name)
		if value == "" {
			continue
		}
		visible, err := strconv.ParseBool(value)
		if err != nil {
			return options, fmt.Errorf("%w: %s %q", engine.ErrInvalidDisplayOption, name, value)
		}
		*target = engine.Visibility(visible)
	}

	options.ReadOnly = c.QueryBool("read_only", false)
	options.ManualCommentURL = c.Query("comment_url")
	return options, nil
}
