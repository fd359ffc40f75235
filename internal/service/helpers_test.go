package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-question-engine/internal/dto"
	"github.com/noah-isme/gema-question-engine/internal/models"
	"github.com/noah-isme/gema-question-engine/internal/question"
	"github.com/noah-isme/gema-question-engine/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(append([]any{&models.Question{}}, models.EngineModels()...)...))
	return db
}

func newTestBank(t *testing.T, db *gorm.DB) QuestionBankService {
	t.Helper()
	return NewQuestionBankService(repository.NewQuestionRepository(db), question.NewRegistry(), testValidator(), testLogger())
}

func createQuestion(t *testing.T, bank QuestionBankService, payload dto.QuestionCreateRequest) dto.QuestionResponse {
	t.Helper()
	created, err := bank.Create(context.Background(), payload, "teacher-1")
	require.NoError(t, err)
	return created
}

func sixTimesSeven() dto.QuestionCreateRequest {
	return dto.QuestionCreateRequest{
		Type:        question.TypeShortAnswer,
		Name:        "Six times seven",
		Text:        "<p>What is 6 x 7?</p>",
		DefaultMark: 1,
		Options: question.Options{Answers: []question.Answer{
			{Text: "42", Fraction: 1, Feedback: "Well done."},
			{Text: "*", Fraction: 0, Feedback: "Try the table of seven."},
		}},
	}
}

func explainEssay() dto.QuestionCreateRequest {
	return dto.QuestionCreateRequest{
		Type:            question.TypeEssay,
		Name:            "Explain multiplication",
		Text:            "Explain multiplication in your own words.",
		GeneralFeedback: "Repeated addition is the key idea.",
		DefaultMark:     5,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []AttemptEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event AttemptEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, 0, len(p.events))
	for _, event := range p.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func floatPtr(v float64) *float64 {
	return &v
}
