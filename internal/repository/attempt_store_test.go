package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-question-engine/internal/behaviour"
	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/models"
	"github.com/noah-isme/gema-question-engine/internal/question"
)

func setupEngineTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.EngineModels()...))
	return db
}

func engineOptions() []engine.Option {
	r := engine.NewBehaviourRegistry()
	behaviour.Register(r)
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return []engine.Option{
		engine.WithBehaviours(r),
		engine.WithPreferredBehaviour(behaviour.DeferredFeedback),
		engine.WithActor("student-3"),
		engine.WithClock(func() time.Time {
			now = now.Add(time.Second)
			return now
		}),
	}
}

func testQuestions(t *testing.T, answer string) engine.QuestionMap {
	t.Helper()
	reg := question.NewRegistry()
	short, err := reg.Build(question.Definition{
		ID:   1,
		Type: question.TypeShortAnswer,
		Name: "Product",
		Text: "What is 6 x 7?",
		Options: question.Options{Answers: []question.Answer{
			{Text: answer, Fraction: 1},
			{Text: "4*", Fraction: 0.5},
		}},
	})
	require.NoError(t, err)
	essay, err := reg.Build(question.Definition{ID: 2, Type: question.TypeEssay, Name: "Explain", DefaultMark: 5})
	require.NoError(t, err)
	return engine.QuestionMap{1: short, 2: essay}
}

func TestAttemptStoreRoundTripsUsage(t *testing.T) {
	ctx := context.Background()
	db := setupEngineTestDB(t)
	mapper := engine.NewDataMapper(NewAttemptStore(db))
	questions := testQuestions(t, "42")

	u := engine.NewUsage("mod_quiz", 12, engineOptions()...)
	_, err := u.AddQuestion(questions[1], nil)
	require.NoError(t, err)
	_, err = u.AddQuestion(questions[2], nil)
	require.NoError(t, err)
	require.NoError(t, u.StartAllQuestions())
	_, err = u.ProcessAction(1, map[string]string{"answer": "42"})
	require.NoError(t, err)
	require.NoError(t, mapper.Save(ctx, u))
	require.True(t, u.IsPersisted())

	var steps int64
	require.NoError(t, db.Model(&models.QuestionAttemptStep{}).Count(&steps).Error)
	require.Equal(t, int64(3), steps)

	loaded, err := mapper.Load(ctx, u.PersistedID(), questions, engineOptions()...)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, loaded.Slots())
	first, _ := loaded.Attempt(1)
	require.Equal(t, engine.Todo, first.State())
	require.Equal(t, "42", first.LastQtVar("answer", ""))
	require.Equal(t, "student-3", first.LastStep().Actor())

	_, err = loaded.FinishQuestion(1)
	require.NoError(t, err)
	require.NoError(t, loaded.SetQuestionFlagged(2, true))
	_, err = loaded.ProcessAction(2, map[string]string{"answer": "<p>Repeated addition</p>"})
	require.NoError(t, err)
	require.NoError(t, mapper.Save(ctx, loaded))

	again, err := mapper.Load(ctx, u.PersistedID(), questions, engineOptions()...)
	require.NoError(t, err)
	first, _ = again.Attempt(1)
	require.Equal(t, engine.GradedRight, first.State())
	require.InDelta(t, 1.0, *first.Mark(), 1e-9)
	essay, _ := again.Attempt(2)
	require.True(t, essay.IsFlagged())
	require.Equal(t, "Repeated addition", essay.ResponseSummary())
	require.Equal(t, 5.0, essay.MaxMark())
}

func TestAttemptStoreRegradeReplacesSteps(t *testing.T) {
	ctx := context.Background()
	db := setupEngineTestDB(t)
	mapper := engine.NewDataMapper(NewAttemptStore(db))
	questions := testQuestions(t, "42")

	u := engine.NewUsage("mod_quiz", 12, engineOptions()...)
	_, err := u.AddQuestion(questions[1], nil)
	require.NoError(t, err)
	require.NoError(t, u.StartQuestion(1))
	_, err = u.ProcessAction(1, map[string]string{"answer": "43"})
	require.NoError(t, err)
	_, err = u.FinishQuestion(1)
	require.NoError(t, err)
	require.NoError(t, mapper.Save(ctx, u))

	fixed := testQuestions(t, "43")
	loaded, err := mapper.Load(ctx, u.PersistedID(), fixed, engineOptions()...)
	require.NoError(t, err)
	require.NoError(t, loaded.RegradeQuestion(1, nil))
	require.NoError(t, mapper.Save(ctx, loaded))

	var steps []models.QuestionAttemptStep
	require.NoError(t, db.Order("sequence").Find(&steps).Error)
	require.Len(t, steps, 3)
	require.Equal(t, engine.GradedRight.String(), steps[2].State)

	again, err := mapper.Load(ctx, u.PersistedID(), fixed, engineOptions()...)
	require.NoError(t, err)
	a, _ := again.Attempt(1)
	require.Equal(t, engine.GradedRight, a.State())
}

func TestAttemptStoreDelete(t *testing.T) {
	ctx := context.Background()
	db := setupEngineTestDB(t)
	store := NewAttemptStore(db)
	mapper := engine.NewDataMapper(store)
	questions := testQuestions(t, "42")

	u := engine.NewUsage("mod_quiz", 12, engineOptions()...)
	_, err := u.AddQuestion(questions[1], nil)
	require.NoError(t, err)
	require.NoError(t, u.StartQuestion(1))
	require.NoError(t, mapper.Save(ctx, u))

	require.NoError(t, mapper.Delete(ctx, u.PersistedID()))
	for _, model := range []interface{}{&models.QuestionUsage{}, &models.QuestionAttempt{}, &models.QuestionAttemptStep{}, &models.QuestionAttemptStepData{}} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		require.Zero(t, count)
	}

	_, err = mapper.Load(ctx, u.PersistedID(), questions)
	require.ErrorIs(t, err, engine.ErrUsageNotFound)
	require.ErrorIs(t, mapper.Delete(ctx, u.PersistedID()), engine.ErrUsageNotFound)
}

func TestAttemptStoreTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	db := setupEngineTestDB(t)
	store := NewAttemptStore(db)

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx engine.RecordStore) error {
		if _, err := tx.InsertUsage(ctx, engine.UsageRecord{Component: "mod_quiz", PreferredBehaviour: "deferredfeedback"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.QuestionUsage{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestAttemptStoreLoadUsageRowsIsOrdered(t *testing.T) {
	ctx := context.Background()
	db := setupEngineTestDB(t)
	store := NewAttemptStore(db)

	usageID, err := store.InsertUsage(ctx, engine.UsageRecord{Component: "mod_quiz", ContextID: 4, PreferredBehaviour: "deferredfeedback"})
	require.NoError(t, err)
	second, err := store.InsertAttempt(ctx, engine.AttemptRecord{UsageID: usageID, Slot: 2, Behaviour: "deferredfeedback", QuestionID: 1, MaxMark: 1})
	require.NoError(t, err)
	first, err := store.InsertAttempt(ctx, engine.AttemptRecord{UsageID: usageID, Slot: 1, Behaviour: "deferredfeedback", QuestionID: 1, MaxMark: 1})
	require.NoError(t, err)

	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	_, err = store.InsertStep(ctx, engine.StepRecord{AttemptID: first, Sequence: 1, State: engine.GradedPartial, Fraction: ptr(0.5), TimeCreated: at.Add(time.Minute)},
		[]engine.StepDataRecord{{Name: "answer", Value: "41"}, {Name: "!finish", Value: "1"}})
	require.NoError(t, err)
	_, err = store.InsertStep(ctx, engine.StepRecord{AttemptID: first, Sequence: 0, State: engine.Todo, TimeCreated: at}, nil)
	require.NoError(t, err)

	rows, err := store.LoadUsageRows(ctx, usageID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	require.Equal(t, 1, rows[0].Attempt.Slot)
	require.Equal(t, 0, rows[0].Step.Sequence)
	require.Nil(t, rows[0].Data)
	require.Nil(t, rows[0].Step.Fraction)

	require.Equal(t, "!finish", rows[1].Data.Name)
	require.Equal(t, "answer", rows[2].Data.Name)
	require.Equal(t, engine.GradedPartial, rows[2].Step.State)
	require.InDelta(t, 0.5, *rows[2].Step.Fraction, 1e-9)

	require.Equal(t, second, rows[3].Attempt.ID)
	require.Nil(t, rows[3].Step)

	empty, err := store.LoadUsageRows(ctx, usageID+100)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func ptr(f float64) *float64 { return &f }
