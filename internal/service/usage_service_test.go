package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-question-engine/internal/dto"
	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/repository"
)

type usageFixture struct {
	svc    UsageService
	bank   QuestionBankService
	events *recordingPublisher
	mini   *miniredis.Miniredis
	db     *gorm.DB
}

func newUsageFixture(t *testing.T) usageFixture {
	t.Helper()
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	db := setupServiceDB(t)
	bank := newTestBank(t, db)
	events := &recordingPublisher{}

	svc := NewUsageService(UsageServiceConfig{
		Store:     repository.NewAttemptStore(db),
		Questions: bank,
		Cache:     NewUsageCache(client, time.Minute, testLogger()),
		Events:    events,
		Validator: testValidator(),
	}, testLogger())

	return usageFixture{svc: svc, bank: bank, events: events, mini: mini, db: db}
}

func (f usageFixture) createQuiz(t *testing.T, preferred string) dto.UsageResponse {
	t.Helper()
	sa := createQuestion(t, f.bank, sixTimesSeven())
	essay := createQuestion(t, f.bank, explainEssay())

	created, err := f.svc.Create(context.Background(), dto.UsageCreateRequest{
		Component:          "mod_quiz",
		ContextID:          12,
		PreferredBehaviour: preferred,
		Questions: []dto.UsageQuestionRequest{
			{QuestionID: sa.ID},
			{QuestionID: essay.ID},
		},
		Start: true,
	}, "student-1")
	require.NoError(t, err)
	return created
}

func TestUsageServiceDeferredFeedbackLifecycle(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	created := f.createQuiz(t, "")
	require.NotZero(t, created.ID)
	require.Equal(t, "deferredfeedback", created.PreferredBehaviour)
	require.Len(t, created.Attempts, 2)
	require.Equal(t, "1", created.Attempts[0].Number)
	require.Equal(t, "todo", created.Attempts[0].State)
	require.Equal(t, "manualgraded", created.Attempts[1].Behaviour)
	require.Contains(t, created.Attempts[0].ExpectedFields, created.Attempts[0].FieldPrefix+"answer")

	usageID := int64(created.ID)
	first, second := created.Attempts[0].FieldPrefix, created.Attempts[1].FieldPrefix

	saved, err := f.svc.ProcessActions(ctx, usageID, map[string]string{
		first + "answer":  "42",
		second + "answer": "<p>Adding the same number again and again.</p>",
	}, "student-1")
	require.NoError(t, err)
	require.Equal(t, []dto.SlotVerdict{
		{Slot: 1, Verdict: "keep", State: "todo"},
		{Slot: 2, Verdict: "keep", State: "todo"},
	}, saved.Slots)

	finished, err := f.svc.Finish(ctx, usageID, "student-1")
	require.NoError(t, err)
	require.Equal(t, "gradedright", finished.Slots[0].State)
	require.Equal(t, "needsgrading", finished.Slots[1].State)
	require.InDelta(t, 1.0, finished.Total, 1e-9)
	require.InDelta(t, 6.0, finished.MaxTotal, 1e-9)

	review, err := f.svc.Get(ctx, usageID, engine.DefaultDisplayOptions())
	require.NoError(t, err)
	require.True(t, review.NeedsGrading)
	require.Equal(t, "correct", review.Attempts[0].Correctness)
	require.Equal(t, "1.00", *review.Attempts[0].Mark)
	require.Equal(t, "Well done.", review.Attempts[0].Feedback)
	require.Equal(t, "42", review.Attempts[0].RightAnswer)
	require.Equal(t, "Repeated addition is the key idea.", review.Attempts[1].GeneralFeedback)
	require.Nil(t, review.Attempts[1].Mark)
	require.True(t, f.mini.Exists(usageCacheKey(usageID)))

	cached, err := f.svc.Get(ctx, usageID, engine.DefaultDisplayOptions())
	require.NoError(t, err)
	require.Equal(t, review, cached)

	graded, err := f.svc.ManualGrade(ctx, usageID, 2, dto.ManualGradeRequest{Comment: "<b>Good</b> explanation", Mark: floatPtr(4)}, "teacher-1")
	require.NoError(t, err)
	require.Equal(t, "mangrpartial", graded.State)
	require.Equal(t, "4.00", *graded.Mark)
	require.Contains(t, graded.ManualComment, "Good")
	require.Equal(t, "teacher-1", graded.History[len(graded.History)-1].Actor)
	require.False(t, f.mini.Exists(usageCacheKey(usageID)))

	flagged, err := f.svc.SetFlag(ctx, usageID, 1, true, "student-1")
	require.NoError(t, err)
	require.True(t, *flagged.Flagged)
	require.True(t, flagged.FlagEditable)

	regraded, err := f.svc.Regrade(ctx, usageID, 1, dto.RegradeRequest{MaxMark: floatPtr(2)}, "teacher-1")
	require.NoError(t, err)
	require.Equal(t, "2.00", *regraded.MaxMark)
	require.Equal(t, "2.00", *regraded.Mark)

	final, err := f.svc.Get(ctx, usageID, engine.DefaultDisplayOptions())
	require.NoError(t, err)
	require.False(t, final.NeedsGrading)
	require.InDelta(t, 6.0, *final.TotalMark, 1e-9)
	require.InDelta(t, 7.0, *final.MaxTotalMark, 1e-9)
	require.True(t, *final.Attempts[0].Flagged)

	require.Equal(t, []string{EventActions, EventFinished, EventGraded, EventFlagged, EventRegraded}, f.events.kinds())

	require.NoError(t, f.svc.Delete(ctx, usageID, "teacher-1"))
	_, err = f.svc.Get(ctx, usageID, engine.DefaultDisplayOptions())
	require.ErrorIs(t, err, engine.ErrUsageNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, usageID, "teacher-1"), engine.ErrUsageNotFound)
}

func TestUsageServiceDiscardedActionsAreNotPublished(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	created := f.createQuiz(t, "immediatefeedback")
	usageID := int64(created.ID)
	prefix := created.Attempts[0].FieldPrefix

	result, err := f.svc.ProcessActions(ctx, usageID, map[string]string{
		"slots":             "1",
		prefix + "answer":   "41",
		prefix + "-submit":  "1",
		prefix + ":flagged": "1",
		"unrelated_field":   "x",
	}, "student-1")
	require.NoError(t, err)
	require.Equal(t, []dto.SlotVerdict{{Slot: 1, Verdict: "keep", State: "gradedwrong"}}, result.Slots)

	result, err = f.svc.ProcessActions(ctx, usageID, map[string]string{
		"slots":            "1",
		prefix + "answer":  "42",
		prefix + "-submit": "1",
	}, "student-1")
	require.NoError(t, err)
	require.Equal(t, "discard", result.Slots[0].Verdict)
	require.Equal(t, []string{EventActions}, f.events.kinds())

	review, err := f.svc.Get(ctx, usageID, engine.DefaultDisplayOptions())
	require.NoError(t, err)
	require.True(t, *review.Attempts[0].Flagged)
	require.Equal(t, "Try the table of seven.", review.Attempts[0].Feedback)
}

func TestUsageServiceRejectsBadRequests(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, dto.UsageCreateRequest{
		Component:          "mod_quiz",
		PreferredBehaviour: "bogus",
		Questions:          []dto.UsageQuestionRequest{{QuestionID: 1}},
	}, "student-1")
	require.ErrorIs(t, err, ErrUnknownBehaviour)

	_, err = f.svc.Create(ctx, dto.UsageCreateRequest{
		Component: "mod_quiz",
		Questions: []dto.UsageQuestionRequest{{QuestionID: 404}},
	}, "student-1")
	require.ErrorIs(t, err, engine.ErrQuestionNotFound)

	sa := createQuestion(t, f.bank, sixTimesSeven())
	created, err := f.svc.Create(ctx, dto.UsageCreateRequest{
		Component: "mod_quiz",
		Questions: []dto.UsageQuestionRequest{{QuestionID: sa.ID}},
	}, "student-1")
	require.NoError(t, err)
	require.Equal(t, "notstarted", created.Attempts[0].State)

	usageID := int64(created.ID)
	_, err = f.svc.Finish(ctx, usageID, "student-1")
	require.ErrorIs(t, err, engine.ErrNotStarted)
	_, err = f.svc.ProcessActions(ctx, usageID, map[string]string{"slots": "1,x"}, "student-1")
	require.ErrorIs(t, err, engine.ErrInvalidSlotList)
	_, err = f.svc.SetFlag(ctx, usageID, 9, true, "student-1")
	require.ErrorIs(t, err, engine.ErrSlotNotFound)
	_, err = f.svc.Get(ctx, 999, engine.DefaultDisplayOptions())
	require.ErrorIs(t, err, engine.ErrUsageNotFound)
}

func TestUsageServiceManualGradeOutOfRangeKeepsState(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	created := f.createQuiz(t, "")
	usageID := int64(created.ID)
	_, err := f.svc.Finish(ctx, usageID, "student-1")
	require.NoError(t, err)

	_, err = f.svc.ManualGrade(ctx, usageID, 2, dto.ManualGradeRequest{Comment: "Too much", Mark: floatPtr(9)}, "teacher-1")
	require.ErrorIs(t, err, engine.ErrMarkOutOfRange)

	review, err := f.svc.Get(ctx, usageID, engine.DefaultDisplayOptions())
	require.NoError(t, err)
	require.Equal(t, "gaveup", review.Attempts[1].State)
	require.Empty(t, review.Attempts[1].ManualComment)
}
