package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-question-engine/internal/behaviour"
	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/question"
)

func behaviours() *engine.BehaviourRegistry {
	r := engine.NewBehaviourRegistry()
	behaviour.Register(r)
	return r
}

func shortAnswer(t *testing.T, id int64, answer string) engine.Question {
	t.Helper()
	q, err := question.NewRegistry().Build(question.Definition{
		ID:          id,
		Type:        question.TypeShortAnswer,
		Name:        "Six times seven",
		Text:        "<p>What is 6 x 7?</p>",
		DefaultMark: 1,
		Options: question.Options{Answers: []question.Answer{
			{Text: answer, Fraction: 1},
			{Text: "4*", Fraction: 0.5},
		}},
	})
	require.NoError(t, err)
	return q
}

func essayQuestion(t *testing.T, id int64) engine.Question {
	t.Helper()
	q, err := question.NewRegistry().Build(question.Definition{
		ID:          id,
		Type:        question.TypeEssay,
		Name:        "Explain",
		Text:        "Explain multiplication.",
		DefaultMark: 10,
	})
	require.NoError(t, err)
	return q
}

// clock hands out increasing timestamps a minute apart.
func clock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newUsage(opts ...engine.Option) *engine.Usage {
	base := []engine.Option{
		engine.WithBehaviours(behaviours()),
		engine.WithPreferredBehaviour(behaviour.DeferredFeedback),
		engine.WithClock(clock()),
		engine.WithActor("student-1"),
	}
	return engine.NewUsage("mod_quiz", 7, append(base, opts...)...)
}

func ptr(f float64) *float64 { return &f }
