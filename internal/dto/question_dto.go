package dto

import (
	"time"

	"github.com/jinzhu/copier"

	"github.com/noah-isme/gema-question-engine/internal/models"
	"github.com/noah-isme/gema-question-engine/internal/question"
)

// QuestionCreateRequest describes the payload for adding a question to the bank.
type QuestionCreateRequest struct {
	Type            string           `json:"type" validate:"required,max=32"`
	Name            string           `json:"name" validate:"required,max=255"`
	Text            string           `json:"text" validate:"max=20000"`
	GeneralFeedback string           `json:"general_feedback" validate:"max=20000"`
	DefaultMark     float64          `json:"default_mark" validate:"gte=0"`
	Penalty         float64          `json:"penalty" validate:"gte=0,lte=1"`
	Options         question.Options `json:"options"`
}

// QuestionListQuery narrows question bank listings.
type QuestionListQuery struct {
	Type     string `query:"type"`
	Search   string `query:"search"`
	Page     int    `query:"page" validate:"omitempty,gte=1"`
	PageSize int    `query:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// QuestionResponse is the serialized representation of a bank question.
type QuestionResponse struct {
	ID              uint             `json:"id"`
	Type            string           `json:"type"`
	Name            string           `json:"name"`
	Text            string           `json:"text"`
	GeneralFeedback string           `json:"general_feedback"`
	DefaultMark     float64          `json:"default_mark"`
	Penalty         float64          `json:"penalty"`
	Options         question.Options `json:"options" copier:"-"`
	CreatedBy       string           `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewQuestionResponse converts a model into a DTO.
func NewQuestionResponse(model models.Question) (QuestionResponse, error) {
	var response QuestionResponse
	if err := copier.Copy(&response, &model); err != nil {
		return QuestionResponse{}, err
	}
	if err := model.DecodeOptions(&response.Options); err != nil {
		return QuestionResponse{}, err
	}
	return response, nil
}

// NewQuestionResponseSlice converts a slice of models into DTOs.
func NewQuestionResponseSlice(items []models.Question) ([]QuestionResponse, error) {
	responses := make([]QuestionResponse, 0, len(items))
	for _, item := range items {
		response, err := NewQuestionResponse(item)
		if err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}
	return responses, nil
}

// DefinitionFromModel rebuilds the definition of a stored question.
func DefinitionFromModel(model models.Question) (question.Definition, error) {
	def := question.Definition{
		ID:              int64(model.ID),
		Type:            model.Type,
		Name:            model.Name,
		Text:            model.Text,
		GeneralFeedback: model.GeneralFeedback,
		DefaultMark:     model.DefaultMark,
		Penalty:         model.Penalty,
	}
	if err := model.DecodeOptions(&def.Options); err != nil {
		return question.Definition{}, err
	}
	return def, nil
}

// PageMeta describes pagination of a listing.
type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
}
