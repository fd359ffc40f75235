package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-question-engine/internal/models"
)

// QuestionQuery defines filters and pagination for the question bank.
type QuestionQuery struct {
	Type   string
	Search string
	Offset int
	Limit  int
}

// QuestionRepository exposes persistence operations for question definitions.
type QuestionRepository interface {
	Create(ctx context.Context, question *models.Question) error
	GetByID(ctx context.Context, id uint) (models.Question, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.Question, error)
	List(ctx context.Context, query QuestionQuery) ([]models.Question, int64, error)
}

// NewQuestionRepository constructs a question repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

type questionRepository struct {
	db *gorm.DB
}

func (r *questionRepository) Create(ctx context.Context, question *models.Question) error {
	return r.db.WithContext(ctx).Create(question).Error
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}
	return question, nil
}

func (r *questionRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var questions []models.Question
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepository) List(ctx context.Context, query QuestionQuery) ([]models.Question, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.Question{})

	if query.Type != "" {
		db = db.Where("type = ?", strings.ToLower(query.Type))
	}

	if query.Search != "" {
		pattern := fmt.Sprintf("%%%s%%", strings.ToLower(query.Search))
		db = db.Where("LOWER(name) LIKE ? OR LOWER(text) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}

	var questions []models.Question
	if err := db.Order("created_at DESC").Order("id DESC").Find(&questions).Error; err != nil {
		return nil, 0, err
	}

	return questions, total, nil
}
