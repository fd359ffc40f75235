package models

import "time"

// QuestionUsage groups the question attempts of one quiz, lesson or preview.
type QuestionUsage struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	Component          string            `gorm:"size:255;not null" json:"component"`
	ContextID          int64             `gorm:"not null;index" json:"context_id"`
	PreferredBehaviour string            `gorm:"size:32;not null" json:"preferred_behaviour"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Attempts           []QuestionAttempt `gorm:"foreignKey:UsageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (QuestionUsage) TableName() string { return "question_usages" }

// QuestionAttempt is the attempt at the question in one slot of a usage.
type QuestionAttempt struct {
	ID              uint                  `gorm:"primaryKey" json:"id"`
	UsageID         uint                  `gorm:"not null;uniqueIndex:idx_question_attempt_slot" json:"usage_id"`
	Slot            int                   `gorm:"not null;uniqueIndex:idx_question_attempt_slot" json:"slot"`
	Behaviour       string                `gorm:"size:32;not null" json:"behaviour"`
	QuestionID      uint                  `gorm:"not null;index" json:"question_id"`
	MaxMark         float64               `gorm:"not null" json:"max_mark"`
	MinFraction     float64               `gorm:"not null" json:"min_fraction"`
	Flagged         bool                  `gorm:"not null;default:false" json:"flagged"`
	QuestionSummary string                `gorm:"type:text" json:"question_summary"`
	ResponseSummary string                `gorm:"type:text" json:"response_summary"`
	RightAnswer     string                `gorm:"type:text" json:"right_answer"`
	TimeModified    time.Time             `json:"time_modified"`
	Steps           []QuestionAttemptStep `gorm:"foreignKey:AttemptID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (QuestionAttempt) TableName() string { return "question_attempts" }

// QuestionAttemptStep is one immutable entry of an attempt's history.
type QuestionAttemptStep struct {
	ID          uint                      `gorm:"primaryKey" json:"id"`
	AttemptID   uint                      `gorm:"not null;uniqueIndex:idx_question_attempt_step_sequence" json:"attempt_id"`
	Sequence    int                       `gorm:"not null;uniqueIndex:idx_question_attempt_step_sequence" json:"sequence"`
	State       string                    `gorm:"size:32;not null" json:"state"`
	Fraction    *float64                  `json:"fraction"`
	TimeCreated time.Time                 `gorm:"not null" json:"time_created"`
	Actor       string                    `gorm:"size:64" json:"actor"`
	Data        []QuestionAttemptStepData `gorm:"foreignKey:StepID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (QuestionAttemptStep) TableName() string { return "question_attempt_steps" }

// QuestionAttemptStepData is one named variable of a step.
type QuestionAttemptStepData struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	StepID uint   `gorm:"not null;uniqueIndex:idx_question_attempt_step_data_name" json:"step_id"`
	Name   string `gorm:"size:64;not null;uniqueIndex:idx_question_attempt_step_data_name" json:"name"`
	Value  string `gorm:"type:text" json:"value"`
}

func (QuestionAttemptStepData) TableName() string { return "question_attempt_step_data" }

// EngineModels lists the tables the question engine persists, in migration order.
func EngineModels() []any {
	return []any{&Question{}, &QuestionUsage{}, &QuestionAttempt{}, &QuestionAttemptStep{}, &QuestionAttemptStepData{}}
}
