package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-question-engine/internal/behaviour"
	"github.com/noah-isme/gema-question-engine/internal/dto"
	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/observability"
	"github.com/noah-isme/gema-question-engine/internal/question"
)

// ErrUnknownBehaviour indicates a preferred behaviour that is not installed.
var ErrUnknownBehaviour = errors.New("unknown behaviour")

// UsageService runs question usages: creation, actions, grading and review.
type UsageService interface {
	Create(ctx context.Context, payload dto.UsageCreateRequest, actor string) (dto.UsageResponse, error)
	Get(ctx context.Context, usageID int64, options engine.DisplayOptions) (dto.UsageResponse, error)
	ProcessActions(ctx context.Context, usageID int64, payload map[string]string, actor string) (dto.ActionResponse, error)
	Finish(ctx context.Context, usageID int64, actor string) (dto.ActionResponse, error)
	ManualGrade(ctx context.Context, usageID int64, slot int, payload dto.ManualGradeRequest, actor string) (dto.AttemptView, error)
	Regrade(ctx context.Context, usageID int64, slot int, payload dto.RegradeRequest, actor string) (dto.AttemptView, error)
	RegradeAll(ctx context.Context, usageID int64, actor string) (dto.ActionResponse, error)
	SetFlag(ctx context.Context, usageID int64, slot int, flagged bool, actor string) (dto.AttemptView, error)
	Delete(ctx context.Context, usageID int64, actor string) error
}

// UsageServiceConfig carries the collaborators of the usage service.
type UsageServiceConfig struct {
	Store              engine.RecordStore
	Questions          QuestionBankService
	Behaviours         *engine.BehaviourRegistry
	Cache              UsageCache
	Events             AttemptEventPublisher
	Validator          *validator.Validate
	PreferredBehaviour string
}

type usageService struct {
	mapper     *engine.DataMapper
	questions  QuestionBankService
	behaviours *engine.BehaviourRegistry
	cache      UsageCache
	events     AttemptEventPublisher
	validator  *validator.Validate
	preferred  string
	renderer   SummaryRenderer
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewUsageService constructs the usage service.
func NewUsageService(cfg UsageServiceConfig, logger zerolog.Logger) UsageService {
	behaviours := cfg.Behaviours
	if behaviours == nil {
		behaviours = engine.NewBehaviourRegistry()
		behaviour.Register(behaviours)
	}
	preferred := strings.TrimSpace(cfg.PreferredBehaviour)
	if preferred == "" {
		preferred = behaviour.DeferredFeedback
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewUsageCache(nil, 0, logger)
	}
	events := cfg.Events
	if events == nil {
		events = NewAttemptEventPublisher(nil, "", nil, "", logger)
	}

	return &usageService{
		mapper:     engine.NewDataMapper(cfg.Store),
		questions:  cfg.Questions,
		behaviours: behaviours,
		cache:      cache,
		events:     events,
		validator:  cfg.Validator,
		preferred:  preferred,
		logger:     logger.With().Str("component", "usage_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-question-engine/internal/service/usage"),
		now:        time.Now,
	}
}

func (s *usageService) engineOptions(actor string) []engine.Option {
	return []engine.Option{
		engine.WithBehaviours(s.behaviours),
		engine.WithActor(actor),
		engine.WithClock(s.now),
	}
}

func (s *usageService) Create(ctx context.Context, payload dto.UsageCreateRequest, actor string) (dto.UsageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.UsageResponse{}, err
	}

	preferred := strings.ToLower(strings.TrimSpace(payload.PreferredBehaviour))
	if preferred == "" {
		preferred = s.preferred
	}
	if !s.behaviours.Has(preferred) {
		return dto.UsageResponse{}, fmt.Errorf("%w: %q", ErrUnknownBehaviour, preferred)
	}

	ctx, span := s.tracer.Start(ctx, "usages.create", trace.WithAttributes(
		attribute.String("usage.component", payload.Component),
		attribute.Int("usage.questions", len(payload.Questions)),
	))
	defer span.End()

	ids := make([]uint, 0, len(payload.Questions))
	for _, item := range payload.Questions {
		ids = append(ids, item.QuestionID)
	}
	questions, err := s.questions.Preload(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return dto.UsageResponse{}, err
	}

	opts := append(s.engineOptions(actor), engine.WithPreferredBehaviour(preferred))
	usage := engine.NewUsage(payload.Component, payload.ContextID, opts...)
	for _, item := range payload.Questions {
		if _, err := usage.AddQuestion(questions[int64(item.QuestionID)], item.MaxMark); err != nil {
			return dto.UsageResponse{}, err
		}
	}
	if payload.Start {
		if err := usage.StartAllQuestions(); err != nil {
			return dto.UsageResponse{}, err
		}
	}

	if err := s.save(ctx, usage); err != nil {
		span.RecordError(err)
		return dto.UsageResponse{}, err
	}
	span.SetAttributes(attribute.Int64("usage.id", usage.PersistedID()))

	s.logger.Info().
		Int64("usage_id", usage.PersistedID()).
		Str("component", payload.Component).
		Str("preferred_behaviour", preferred).
		Int("questions", usage.QuestionCount()).
		Str("actor", actor).
		Msg("usage created")

	return s.buildUsageResponse(usage, engine.DefaultDisplayOptions()), nil
}

func (s *usageService) Get(ctx context.Context, usageID int64, options engine.DisplayOptions) (dto.UsageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "usages.get", trace.WithAttributes(attribute.Int64("usage.id", usageID)))
	defer span.End()

	if snapshot, ok := s.cache.Get(ctx, usageID); ok {
		usage, err := engine.RestoreSnapshot(ctx, snapshot, s.questions, s.engineOptions("")...)
		if err == nil {
			return s.buildUsageResponse(usage, options), nil
		}
		s.logger.Warn().Err(err).Int64("usage_id", usageID).Msg("cached snapshot could not be restored")
		s.cache.Invalidate(ctx, usageID)
	}

	usage, err := s.mapper.Load(ctx, usageID, s.questions, s.engineOptions("")...)
	if err != nil {
		span.RecordError(err)
		return dto.UsageResponse{}, err
	}
	s.cache.Put(ctx, usage)

	return s.buildUsageResponse(usage, options), nil
}

func (s *usageService) ProcessActions(ctx context.Context, usageID int64, payload map[string]string, actor string) (dto.ActionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "usages.process_actions", trace.WithAttributes(attribute.Int64("usage.id", usageID)))
	defer span.End()

	usage, err := s.load(ctx, usageID, actor)
	if err != nil {
		span.RecordError(err)
		return dto.ActionResponse{}, err
	}

	verdicts, err := usage.ProcessAllActions(payload)
	if err != nil {
		span.RecordError(err)
		return dto.ActionResponse{}, err
	}

	return s.commit(ctx, usage, verdicts, EventActions, actor)
}

func (s *usageService) Finish(ctx context.Context, usageID int64, actor string) (dto.ActionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "usages.finish", trace.WithAttributes(attribute.Int64("usage.id", usageID)))
	defer span.End()

	usage, err := s.load(ctx, usageID, actor)
	if err != nil {
		span.RecordError(err)
		return dto.ActionResponse{}, err
	}

	verdicts := make(map[int]engine.Verdict, usage.QuestionCount())
	for _, slot := range usage.Slots() {
		verdict, err := usage.FinishQuestion(slot)
		if err != nil {
			span.RecordError(err)
			return dto.ActionResponse{}, err
		}
		verdicts[slot] = verdict
	}

	return s.commit(ctx, usage, verdicts, EventFinished, actor)
}

func (s *usageService) ManualGrade(ctx context.Context, usageID int64, slot int, payload dto.ManualGradeRequest, actor string) (dto.AttemptView, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptView{}, err
	}

	ctx, span := s.tracer.Start(ctx, "usages.manual_grade", trace.WithAttributes(
		attribute.Int64("usage.id", usageID),
		attribute.Int("usage.slot", slot),
	))
	defer span.End()

	usage, err := s.load(ctx, usageID, actor)
	if err != nil {
		span.RecordError(err)
		return dto.AttemptView{}, err
	}

	verdict, err := usage.ManualGradeQuestion(slot, payload.Comment, payload.Mark)
	if err != nil {
		span.RecordError(err)
		return dto.AttemptView{}, err
	}

	if _, err := s.commit(ctx, usage, map[int]engine.Verdict{slot: verdict}, EventGraded, actor); err != nil {
		return dto.AttemptView{}, err
	}
	return s.attemptView(usage, slot, staffDisplayOptions())
}

func (s *usageService) Regrade(ctx context.Context, usageID int64, slot int, payload dto.RegradeRequest, actor string) (dto.AttemptView, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptView{}, err
	}

	ctx, span := s.tracer.Start(ctx, "usages.regrade", trace.WithAttributes(
		attribute.Int64("usage.id", usageID),
		attribute.Int("usage.slot", slot),
	))
	defer span.End()

	usage, err := s.load(ctx, usageID, actor)
	if err != nil {
		span.RecordError(err)
		return dto.AttemptView{}, err
	}

	if err := usage.RegradeQuestion(slot, payload.MaxMark); err != nil {
		span.RecordError(err)
		return dto.AttemptView{}, err
	}
	observability.EngineRegrades().WithLabelValues("slot").Inc()

	if _, err := s.commit(ctx, usage, map[int]engine.Verdict{slot: engine.Keep}, EventRegraded, actor); err != nil {
		return dto.AttemptView{}, err
	}
	return s.attemptView(usage, slot, staffDisplayOptions())
}

func (s *usageService) RegradeAll(ctx context.Context, usageID int64, actor string) (dto.ActionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "usages.regrade_all", trace.WithAttributes(attribute.Int64("usage.id", usageID)))
	defer span.End()

	usage, err := s.load(ctx, usageID, actor)
	if err != nil {
		span.RecordError(err)
		return dto.ActionResponse{}, err
	}

	if err := usage.RegradeAll(); err != nil {
		span.RecordError(err)
		return dto.ActionResponse{}, err
	}

	verdicts := map[int]engine.Verdict{}
	for _, slot := range usage.Slots() {
		attempt, _ := usage.Attempt(slot)
		if attempt.IsStarted() {
			verdicts[slot] = engine.Keep
		}
	}
	observability.EngineRegrades().WithLabelValues("usage").Add(float64(len(verdicts)))

	return s.commit(ctx, usage, verdicts, EventRegraded, actor)
}

func (s *usageService) SetFlag(ctx context.Context, usageID int64, slot int, flagged bool, actor string) (dto.AttemptView, error) {
	ctx, span := s.tracer.Start(ctx, "usages.set_flag", trace.WithAttributes(
		attribute.Int64("usage.id", usageID),
		attribute.Int("usage.slot", slot),
		attribute.Bool("usage.flagged", flagged),
	))
	defer span.End()

	usage, err := s.load(ctx, usageID, actor)
	if err != nil {
		span.RecordError(err)
		return dto.AttemptView{}, err
	}

	if err := usage.SetQuestionFlagged(slot, flagged); err != nil {
		span.RecordError(err)
		return dto.AttemptView{}, err
	}

	if _, err := s.commit(ctx, usage, map[int]engine.Verdict{slot: engine.Keep}, EventFlagged, actor); err != nil {
		return dto.AttemptView{}, err
	}

	options := engine.DefaultDisplayOptions()
	options.Flags = engine.FlagsEditable
	return s.attemptView(usage, slot, options)
}

func (s *usageService) Delete(ctx context.Context, usageID int64, actor string) error {
	ctx, span := s.tracer.Start(ctx, "usages.delete", trace.WithAttributes(attribute.Int64("usage.id", usageID)))
	defer span.End()

	if err := s.mapper.Delete(ctx, usageID); err != nil {
		span.RecordError(err)
		return err
	}
	s.cache.Invalidate(ctx, usageID)
	s.events.Publish(ctx, AttemptEvent{Kind: EventDeleted, UsageID: usageID, Actor: actor})

	s.logger.Info().Int64("usage_id", usageID).Str("actor", actor).Msg("usage deleted")
	return nil
}

func (s *usageService) load(ctx context.Context, usageID int64, actor string) (*engine.Usage, error) {
	usage, err := s.mapper.Load(ctx, usageID, s.questions, s.engineOptions(actor)...)
	if err != nil {
		return nil, err
	}
	return usage, nil
}

func (s *usageService) save(ctx context.Context, usage *engine.Usage) error {
	start := time.Now()
	err := s.mapper.Save(ctx, usage)
	observability.EngineFlushDuration().Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("save usage %s: %w", usage.ID(), err)
	}
	s.cache.Invalidate(ctx, usage.PersistedID())
	return nil
}

// commit flushes the usage, records verdict metrics and publishes the
// attempts that kept a new step.
func (s *usageService) commit(ctx context.Context, usage *engine.Usage, verdicts map[int]engine.Verdict, kind, actor string) (dto.ActionResponse, error) {
	if err := s.save(ctx, usage); err != nil {
		return dto.ActionResponse{}, err
	}

	response := dto.ActionResponse{
		UsageID:  uint(usage.PersistedID()),
		Slots:    make([]dto.SlotVerdict, 0, len(verdicts)),
		Total:    usage.TotalMark(),
		MaxTotal: usage.MaxTotalMark(),
	}
	event := AttemptEvent{
		Kind:      kind,
		UsageID:   usage.PersistedID(),
		Component: usage.Component(),
		ContextID: usage.ContextID(),
		Actor:     actor,
	}

	for _, slot := range usage.Slots() {
		verdict, ok := verdicts[slot]
		if !ok {
			continue
		}
		attempt, _ := usage.Attempt(slot)
		if kind == EventActions || kind == EventFinished || kind == EventGraded {
			observability.EngineActions().WithLabelValues(attempt.BehaviourName(), verdict.String()).Inc()
		}
		response.Slots = append(response.Slots, dto.SlotVerdict{
			Slot:    slot,
			Verdict: verdict.String(),
			State:   attempt.State().String(),
		})
		if verdict == engine.Keep {
			event.Slots = append(event.Slots, slotEvent(attempt))
		}
	}

	if len(event.Slots) > 0 {
		s.events.Publish(ctx, event)
	}

	s.logger.Debug().
		Int64("usage_id", usage.PersistedID()).
		Str("kind", kind).
		Int("changed_slots", len(event.Slots)).
		Str("actor", actor).
		Msg("usage updated")

	return response, nil
}

func (s *usageService) attemptView(usage *engine.Usage, slot int, options engine.DisplayOptions) (dto.AttemptView, error) {
	attempt, err := usage.Attempt(slot)
	if err != nil {
		return dto.AttemptView{}, err
	}
	numbers := questionNumbers(usage)
	return renderAttempt(attempt, options, numbers[slot]), nil
}

func (s *usageService) buildUsageResponse(usage *engine.Usage, options engine.DisplayOptions) dto.UsageResponse {
	response := dto.UsageResponse{
		ID:                 uint(usage.PersistedID()),
		Component:          usage.Component(),
		ContextID:          usage.ContextID(),
		PreferredBehaviour: usage.PreferredBehaviour(),
		NeedsGrading:       usage.HasUngradedQuestions(),
		Attempts:           make([]dto.AttemptView, 0, usage.QuestionCount()),
	}

	switch options.Marks {
	case engine.MarksMarkAndMax:
		total := usage.TotalMark()
		response.TotalMark = &total
		fallthrough
	case engine.MarksMaxOnly:
		maxTotal := usage.MaxTotalMark()
		response.MaxTotalMark = &maxTotal
	}

	numbers := questionNumbers(usage)
	for _, slot := range usage.Slots() {
		attempt, _ := usage.Attempt(slot)
		if !attempt.IsStarted() {
			response.Attempts = append(response.Attempts, dto.AttemptView{
				Slot:         slot,
				Number:       numbers[slot],
				QuestionID:   attempt.Question().ID(),
				QuestionType: attempt.Question().Type(),
				QuestionName: attempt.Question().Name(),
				State:        engine.NotStarted.String(),
				Status:       statusText(engine.NotStarted),
				ReadOnly:     true,
			})
			continue
		}
		rendered, err := attempt.Render(s.renderer, options, numbers[slot])
		if err != nil {
			s.logger.Warn().Err(err).Int("slot", slot).Msg("failed to render attempt")
			continue
		}
		if view, ok := rendered.(dto.AttemptView); ok {
			response.Attempts = append(response.Attempts, view)
		}
	}

	return response
}

// questionNumbers numbers the gradable slots from 1; description items get "i".
func questionNumbers(usage *engine.Usage) map[int]string {
	numbers := make(map[int]string, usage.QuestionCount())
	next := 1
	for _, slot := range usage.Slots() {
		attempt, _ := usage.Attempt(slot)
		if attempt.Question().Type() == question.TypeDescription {
			numbers[slot] = "i"
			continue
		}
		numbers[slot] = strconv.Itoa(next)
		next++
	}
	return numbers
}

func staffDisplayOptions() engine.DisplayOptions {
	options := engine.DefaultDisplayOptions()
	options.ReadOnly = true
	options.History = engine.Visible
	return options
}
