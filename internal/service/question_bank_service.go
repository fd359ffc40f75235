package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-question-engine/internal/dto"
	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/models"
	"github.com/noah-isme/gema-question-engine/internal/question"
	"github.com/noah-isme/gema-question-engine/internal/repository"
)

const (
	defaultQuestionPageSize = 20
	maxQuestionPageSize     = 100
)

// QuestionBankService manages stored question definitions and resolves them
// for the engine.
type QuestionBankService interface {
	engine.QuestionSource
	Create(ctx context.Context, payload dto.QuestionCreateRequest, actor string) (dto.QuestionResponse, error)
	Get(ctx context.Context, id uint) (dto.QuestionResponse, error)
	List(ctx context.Context, query dto.QuestionListQuery) ([]dto.QuestionResponse, dto.PageMeta, error)
	Preload(ctx context.Context, ids []uint) (engine.QuestionMap, error)
}

type questionBankService struct {
	repo      repository.QuestionRepository
	registry  *question.Registry
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewQuestionBankService constructs the question bank service.
func NewQuestionBankService(repo repository.QuestionRepository, registry *question.Registry, validate *validator.Validate, logger zerolog.Logger) QuestionBankService {
	if registry == nil {
		registry = question.NewRegistry()
	}
	return &questionBankService{
		repo:      repo,
		registry:  registry,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "question_bank_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-question-engine/internal/service/question_bank"),
	}
}

func (s *questionBankService) Create(ctx context.Context, payload dto.QuestionCreateRequest, actor string) (dto.QuestionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.QuestionResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "question_bank.create", trace.WithAttributes(
		attribute.String("question.type", payload.Type),
	))
	defer span.End()

	model := models.Question{
		Type:            strings.ToLower(strings.TrimSpace(payload.Type)),
		Name:            strings.TrimSpace(s.sanitizer.Sanitize(payload.Name)),
		Text:            strings.TrimSpace(s.sanitizer.Sanitize(payload.Text)),
		GeneralFeedback: strings.TrimSpace(s.sanitizer.Sanitize(payload.GeneralFeedback)),
		DefaultMark:     payload.DefaultMark,
		Penalty:         payload.Penalty,
		CreatedBy:       actor,
	}
	if err := model.SetOptions(payload.Options); err != nil {
		return dto.QuestionResponse{}, fmt.Errorf("encode options: %w", err)
	}

	if _, err := s.build(model); err != nil {
		return dto.QuestionResponse{}, err
	}

	if err := s.repo.Create(ctx, &model); err != nil {
		span.RecordError(err)
		return dto.QuestionResponse{}, err
	}

	s.logger.Info().Uint("question_id", model.ID).Str("type", model.Type).Str("actor", actor).Msg("question created")
	return dto.NewQuestionResponse(model)
}

func (s *questionBankService) Get(ctx context.Context, id uint) (dto.QuestionResponse, error) {
	model, err := s.find(ctx, id)
	if err != nil {
		return dto.QuestionResponse{}, err
	}
	return dto.NewQuestionResponse(model)
}

func (s *questionBankService) List(ctx context.Context, query dto.QuestionListQuery) ([]dto.QuestionResponse, dto.PageMeta, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, dto.PageMeta{}, err
	}

	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = defaultQuestionPageSize
	}
	if size > maxQuestionPageSize {
		size = maxQuestionPageSize
	}

	items, total, err := s.repo.List(ctx, repository.QuestionQuery{
		Type:   query.Type,
		Search: query.Search,
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		return nil, dto.PageMeta{}, err
	}

	responses, err := dto.NewQuestionResponseSlice(items)
	if err != nil {
		return nil, dto.PageMeta{}, err
	}
	return responses, dto.PageMeta{Page: page, PageSize: size, TotalItems: total}, nil
}

// Question implements engine.QuestionSource.
func (s *questionBankService) Question(ctx context.Context, id int64) (engine.Question, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: %d", engine.ErrQuestionNotFound, id)
	}
	model, err := s.find(ctx, uint(id))
	if err != nil {
		return nil, err
	}
	return s.build(model)
}

// Preload builds every listed question with one query. Missing ids fail.
func (s *questionBankService) Preload(ctx context.Context, ids []uint) (engine.QuestionMap, error) {
	items, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	questions := make(engine.QuestionMap, len(items))
	for _, item := range items {
		q, err := s.build(item)
		if err != nil {
			return nil, err
		}
		questions[int64(item.ID)] = q
	}
	for _, id := range ids {
		if _, ok := questions[int64(id)]; !ok {
			return nil, fmt.Errorf("%w: %d", engine.ErrQuestionNotFound, id)
		}
	}
	return questions, nil
}

func (s *questionBankService) find(ctx context.Context, id uint) (models.Question, error) {
	model, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Question{}, fmt.Errorf("%w: %d", engine.ErrQuestionNotFound, id)
		}
		return models.Question{}, err
	}
	return model, nil
}

func (s *questionBankService) build(model models.Question) (engine.Question, error) {
	def, err := dto.DefinitionFromModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", question.ErrInvalidDefinition, err)
	}
	return s.registry.Build(def)
}
