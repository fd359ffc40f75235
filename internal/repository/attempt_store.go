package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/models"
)

type attemptStore struct {
	db *gorm.DB
}

// NewAttemptStore persists question usages, attempts and steps with gorm.
func NewAttemptStore(db *gorm.DB) engine.RecordStore {
	return &attemptStore{db: db}
}

func (s *attemptStore) InsertUsage(ctx context.Context, rec engine.UsageRecord) (int64, error) {
	usage := models.QuestionUsage{
		Component:          rec.Component,
		ContextID:          rec.ContextID,
		PreferredBehaviour: rec.PreferredBehaviour,
	}
	if err := s.db.WithContext(ctx).Create(&usage).Error; err != nil {
		return 0, err
	}
	return int64(usage.ID), nil
}

func (s *attemptStore) UpdateUsage(ctx context.Context, rec engine.UsageRecord) error {
	return s.db.WithContext(ctx).Model(&models.QuestionUsage{ID: uint(rec.ID)}).
		Updates(map[string]interface{}{
			"component":           rec.Component,
			"context_id":          rec.ContextID,
			"preferred_behaviour": rec.PreferredBehaviour,
		}).Error
}

func (s *attemptStore) DeleteUsage(ctx context.Context, usageID int64) error {
	db := s.db.WithContext(ctx)
	attempts := db.Model(&models.QuestionAttempt{}).Select("id").Where("usage_id = ?", usageID)
	steps := db.Model(&models.QuestionAttemptStep{}).Select("id").Where("attempt_id IN (?)", attempts)

	if err := db.Where("step_id IN (?)", steps).Delete(&models.QuestionAttemptStepData{}).Error; err != nil {
		return fmt.Errorf("delete step data: %w", err)
	}
	if err := db.Where("attempt_id IN (?)", attempts).Delete(&models.QuestionAttemptStep{}).Error; err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	if err := db.Where("usage_id = ?", usageID).Delete(&models.QuestionAttempt{}).Error; err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	result := db.Delete(&models.QuestionUsage{}, usageID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", engine.ErrUsageNotFound, usageID)
	}
	return nil
}

func attemptModel(rec engine.AttemptRecord) models.QuestionAttempt {
	return models.QuestionAttempt{
		ID:              uint(rec.ID),
		UsageID:         uint(rec.UsageID),
		Slot:            rec.Slot,
		Behaviour:       rec.Behaviour,
		QuestionID:      uint(rec.QuestionID),
		MaxMark:         rec.MaxMark,
		MinFraction:     rec.MinFraction,
		Flagged:         rec.Flagged,
		QuestionSummary: rec.QuestionSummary,
		ResponseSummary: rec.ResponseSummary,
		RightAnswer:     rec.RightAnswer,
		TimeModified:    rec.TimeModified,
	}
}

func (s *attemptStore) InsertAttempt(ctx context.Context, rec engine.AttemptRecord) (int64, error) {
	attempt := attemptModel(rec)
	attempt.ID = 0
	if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		return 0, err
	}
	return int64(attempt.ID), nil
}

func (s *attemptStore) UpdateAttempt(ctx context.Context, rec engine.AttemptRecord) error {
	attempt := attemptModel(rec)
	return s.db.WithContext(ctx).Model(&models.QuestionAttempt{ID: attempt.ID}).
		Select("*").Omit("id", "usage_id", "slot").
		Updates(&attempt).Error
}

func (s *attemptStore) InsertStep(ctx context.Context, rec engine.StepRecord, data []engine.StepDataRecord) (int64, error) {
	step := models.QuestionAttemptStep{
		AttemptID:   uint(rec.AttemptID),
		Sequence:    rec.Sequence,
		State:       rec.State.String(),
		Fraction:    rec.Fraction,
		TimeCreated: rec.TimeCreated,
		Actor:       rec.Actor,
	}
	db := s.db.WithContext(ctx)
	if err := db.Create(&step).Error; err != nil {
		return 0, err
	}
	if len(data) > 0 {
		rows := make([]models.QuestionAttemptStepData, 0, len(data))
		for _, d := range data {
			rows = append(rows, models.QuestionAttemptStepData{StepID: step.ID, Name: d.Name, Value: d.Value})
		}
		if err := db.Create(&rows).Error; err != nil {
			return 0, fmt.Errorf("insert data of step %d: %w", step.ID, err)
		}
	}
	return int64(step.ID), nil
}

func (s *attemptStore) DeleteSteps(ctx context.Context, attemptID int64) error {
	db := s.db.WithContext(ctx)
	steps := db.Model(&models.QuestionAttemptStep{}).Select("id").Where("attempt_id = ?", attemptID)
	if err := db.Where("step_id IN (?)", steps).Delete(&models.QuestionAttemptStepData{}).Error; err != nil {
		return fmt.Errorf("delete step data: %w", err)
	}
	return db.Where("attempt_id = ?", attemptID).Delete(&models.QuestionAttemptStep{}).Error
}

// usageRow is one line of the outer join over the four engine tables.
type usageRow struct {
	UsageID            int64
	Component          string
	ContextID          int64
	PreferredBehaviour string

	AttemptID       *int64
	Slot            *int
	Behaviour       *string
	QuestionID      *int64
	MaxMark         *float64
	MinFraction     *float64
	Flagged         *bool
	QuestionSummary *string
	ResponseSummary *string
	RightAnswer     *string
	TimeModified    *time.Time

	StepID      *int64
	Sequence    *int
	State       *string
	Fraction    *float64
	TimeCreated *time.Time
	Actor       *string

	DataName  *string
	DataValue *string
}

const usageRowColumns = `qu.id AS usage_id, qu.component, qu.context_id, qu.preferred_behaviour,
qa.id AS attempt_id, qa.slot, qa.behaviour, qa.question_id, qa.max_mark, qa.min_fraction, qa.flagged,
qa.question_summary, qa.response_summary, qa.right_answer, qa.time_modified,
qas.id AS step_id, qas.sequence, qas.state, qas.fraction, qas.time_created, qas.actor,
qasd.name AS data_name, qasd.value AS data_value`

func (s *attemptStore) LoadUsageRows(ctx context.Context, usageID int64) ([]engine.Row, error) {
	var raw []usageRow
	err := s.db.WithContext(ctx).
		Table("question_usages AS qu").
		Select(usageRowColumns).
		Joins("LEFT JOIN question_attempts AS qa ON qa.usage_id = qu.id").
		Joins("LEFT JOIN question_attempt_steps AS qas ON qas.attempt_id = qa.id").
		Joins("LEFT JOIN question_attempt_step_data AS qasd ON qasd.step_id = qas.id").
		Where("qu.id = ?", usageID).
		Order("qa.slot ASC, qas.sequence ASC, qasd.name ASC").
		Scan(&raw).Error
	if err != nil {
		return nil, err
	}

	rows := make([]engine.Row, 0, len(raw))
	for _, r := range raw {
		row, err := r.toRow()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r usageRow) toRow() (engine.Row, error) {
	row := engine.Row{Usage: engine.UsageRecord{
		ID:                 r.UsageID,
		Component:          r.Component,
		ContextID:          r.ContextID,
		PreferredBehaviour: r.PreferredBehaviour,
	}}
	if r.AttemptID == nil {
		return row, nil
	}
	row.Attempt = &engine.AttemptRecord{
		ID:              *r.AttemptID,
		UsageID:         r.UsageID,
		Slot:            deref(r.Slot),
		Behaviour:       deref(r.Behaviour),
		QuestionID:      deref(r.QuestionID),
		MaxMark:         deref(r.MaxMark),
		MinFraction:     deref(r.MinFraction),
		Flagged:         deref(r.Flagged),
		QuestionSummary: deref(r.QuestionSummary),
		ResponseSummary: deref(r.ResponseSummary),
		RightAnswer:     deref(r.RightAnswer),
		TimeModified:    deref(r.TimeModified),
	}
	if r.StepID == nil {
		return row, nil
	}
	state, err := engine.ParseState(deref(r.State))
	if err != nil {
		return engine.Row{}, fmt.Errorf("step %d: %w", *r.StepID, err)
	}
	row.Step = &engine.StepRecord{
		ID:          *r.StepID,
		AttemptID:   *r.AttemptID,
		Sequence:    deref(r.Sequence),
		State:       state,
		Fraction:    r.Fraction,
		TimeCreated: deref(r.TimeCreated),
		Actor:       deref(r.Actor),
	}
	if r.DataName != nil {
		row.Data = &engine.StepDataRecord{StepID: *r.StepID, Name: *r.DataName, Value: deref(r.DataValue)}
	}
	return row, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s *attemptStore) Transaction(ctx context.Context, fn func(tx engine.RecordStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&attemptStore{db: tx})
	})
}
