package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-question-engine/internal/dto"
	"github.com/noah-isme/gema-question-engine/internal/middleware"
	"github.com/noah-isme/gema-question-engine/internal/service"
	"github.com/noah-isme/gema-question-engine/internal/utils"
)

// QuestionHandler exposes the question bank.
type QuestionHandler struct {
	service service.QuestionBankService
	logger  zerolog.Logger
}

// NewQuestionHandler constructs the handler.
func NewQuestionHandler(service service.QuestionBankService, logger zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		service: service,
		logger:  logger.With().Str("component", "question_handler").Logger(),
	}
}

// Register attaches routes. Authoring is limited to staff.
func (h *QuestionHandler) Register(router fiber.Router) {
	staff := middleware.AuthOptions{Role: middleware.AuthRoleStaff}
	router.Post("", middleware.WithAuth(h.create, staff))
	router.Get("", middleware.WithAuth(h.list, staff))
	router.Get("/:id", middleware.WithAuth(h.get, middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}))
}

func (h *QuestionHandler) create(c *fiber.Ctx) error {
	var payload dto.QuestionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Create(c.UserContext(), payload, actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to create question")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "question created", created)
}

func (h *QuestionHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page size")
	}

	items, meta, err := h.service.List(c.UserContext(), dto.QuestionListQuery{
		Type:     c.Query("type"),
		Search:   c.Query("search"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return respondError(c, h.logger, err, "failed to list questions")
	}

	return utils.OK(c, items, "questions retrieved", meta)
}

func (h *QuestionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	item, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to fetch question")
	}

	return utils.SendSuccess(c, "question retrieved", item)
}
