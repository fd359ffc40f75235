package dto

import "time"

// UsageQuestionRequest adds one bank question to a new usage.
type UsageQuestionRequest struct {
	QuestionID uint     `json:"question_id" validate:"required"`
	MaxMark    *float64 `json:"max_mark" validate:"omitempty,gte=0"`
}

// UsageCreateRequest describes the payload for creating a question usage.
type UsageCreateRequest struct {
	Component          string                 `json:"component" validate:"required,max=255"`
	ContextID          int64                  `json:"context_id" validate:"gte=0"`
	PreferredBehaviour string                 `json:"preferred_behaviour" validate:"omitempty,max=32"`
	Questions          []UsageQuestionRequest `json:"questions" validate:"required,min=1,dive"`
	Start              bool                   `json:"start"`
}

// ManualGradeRequest carries a teacher's comment and optional mark.
type ManualGradeRequest struct {
	Comment string   `json:"comment" validate:"max=20000"`
	Mark    *float64 `json:"mark"`
}

// RegradeRequest optionally changes the max mark while regrading.
type RegradeRequest struct {
	MaxMark *float64 `json:"max_mark" validate:"omitempty,gte=0"`
}

// FlagRequest sets or clears the flag of a slot.
type FlagRequest struct {
	Flagged bool `json:"flagged"`
}

// SlotVerdict reports what happened to one slot during action processing.
type SlotVerdict struct {
	Slot    int    `json:"slot"`
	Verdict string `json:"verdict"`
	State   string `json:"state"`
}

// ActionResponse summarises a processed action payload.
type ActionResponse struct {
	UsageID  uint          `json:"usage_id"`
	Slots    []SlotVerdict `json:"slots"`
	Total    float64       `json:"total_mark"`
	MaxTotal float64       `json:"max_total_mark"`
}

// StepView is one entry of an attempt's history.
type StepView struct {
	Sequence    int               `json:"sequence"`
	State       string            `json:"state"`
	Mark        *float64          `json:"mark,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	TimeCreated time.Time         `json:"time_created"`
	Data        map[string]string `json:"data,omitempty"`
}

// AttemptView is the display form of one attempt, filtered by display options.
type AttemptView struct {
	Slot            int               `json:"slot"`
	Number          string            `json:"number"`
	QuestionID      int64             `json:"question_id"`
	QuestionType    string            `json:"question_type"`
	QuestionName    string            `json:"question_name"`
	QuestionText    string            `json:"question_text"`
	Behaviour       string            `json:"behaviour"`
	State           string            `json:"state"`
	Status          string            `json:"status"`
	ReadOnly        bool              `json:"read_only"`
	FieldPrefix     string            `json:"field_prefix"`
	ExpectedFields  []string          `json:"expected_fields,omitempty"`
	Response        map[string]string `json:"response,omitempty"`
	ResponseSummary string            `json:"response_summary"`
	Mark            *string           `json:"mark,omitempty"`
	MaxMark         *string           `json:"max_mark,omitempty"`
	Correctness     string            `json:"correctness,omitempty"`
	Feedback        string            `json:"feedback,omitempty"`
	GeneralFeedback string            `json:"general_feedback,omitempty"`
	RightAnswer     string            `json:"right_answer,omitempty"`
	ManualComment   string            `json:"manual_comment,omitempty"`
	CommentURL      string            `json:"comment_url,omitempty"`
	Flagged         *bool             `json:"flagged,omitempty"`
	FlagEditable    bool              `json:"flag_editable,omitempty"`
	History         []StepView        `json:"history,omitempty"`
}

// UsageResponse is the display form of a whole usage.
type UsageResponse struct {
	ID                 uint          `json:"id"`
	Component          string        `json:"component"`
	ContextID          int64         `json:"context_id"`
	PreferredBehaviour string        `json:"preferred_behaviour"`
	TotalMark          *float64      `json:"total_mark,omitempty"`
	MaxTotalMark       *float64      `json:"max_total_mark,omitempty"`
	NeedsGrading       bool          `json:"needs_grading"`
	Attempts           []AttemptView `json:"attempts"`
}
