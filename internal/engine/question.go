package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuestionNotFound indicates a question definition is not available to the engine.
var ErrQuestionNotFound = errors.New("question not found")

// Question is the read-only definition shared by every attempt at it.
// Per-attempt state such as a shuffled order lives in the attempt's first step.
type Question interface {
	ID() int64
	Type() string
	Name() string
	Text() string
	DefaultMark() float64
	Penalty() float64
	MinFraction() float64

	// BehaviourFor lets a question type override the usage's preferred behaviour.
	BehaviourFor(preferred string) string

	ExpectedData() map[string]ParamType
	InitFirstStep(step *Step) error

	IsCompleteResponse(response map[string]string) bool
	IsGradableResponse(response map[string]string) bool
	IsSameResponse(prev, next map[string]string) bool
	GradeResponse(response map[string]string) (float64, State)

	SummariseResponse(response map[string]string) string
	CorrectResponse() map[string]string
	RightAnswerSummary() string
	QuestionSummary() string
}

// AttemptStateApplier is implemented by questions whose per-attempt setup,
// such as a choice order, is cached on the first step. The returned
// question is bound to that attempt.
type AttemptStateApplier interface {
	ApplyAttemptState(first *Step) (Question, error)
}

// QuestionSource resolves question definitions while a usage is loaded.
type QuestionSource interface {
	Question(ctx context.Context, id int64) (Question, error)
}

// QuestionMap is an in-memory QuestionSource.
type QuestionMap map[int64]Question

// Question implements QuestionSource.
func (m QuestionMap) Question(_ context.Context, id int64) (Question, error) {
	q, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrQuestionNotFound, id)
	}
	return q, nil
}
