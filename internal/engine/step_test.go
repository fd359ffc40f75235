package engine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-question-engine/internal/engine"
)

func TestStepCachedVariablesNeedUnderscore(t *testing.T) {
	step := engine.NewStep(map[string]string{"answer": "42"})

	require.ErrorIs(t, step.SetQtVar("answer", "x"), engine.ErrInvalidVarName)
	require.NoError(t, step.SetQtVar("_answer", "x"))
	require.ErrorIs(t, step.SetBehaviourVar("try", "1"), engine.ErrInvalidVarName)
	require.NoError(t, step.SetBehaviourVar("_try", "1"))

	v, ok := step.QtVar("_answer")
	require.True(t, ok)
	require.Equal(t, "x", v)
	v, ok = step.BehaviourVar("_try")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestStepSubmittedDataDropsCachedNames(t *testing.T) {
	step := engine.NewStep(map[string]string{"answer": "42", "!finish": "1"})
	require.NoError(t, step.SetQtVar("_order", "1,0"))
	require.NoError(t, step.SetBehaviourVar("_try", "2"))

	submitted := step.SubmittedData()
	require.Equal(t, map[string]string{"answer": "42", "!finish": "1"}, submitted)
	for name := range submitted {
		require.False(t, strings.HasPrefix(name, "_"))
		require.False(t, strings.HasPrefix(name, "!_"))
	}

	require.Equal(t, map[string]string{"answer": "42"}, step.ResponseData())
	require.Equal(t, map[string]string{"answer": "42", "_order": "1,0"}, step.QtData())
	require.Equal(t, map[string]string{"finish": "1", "_try": "2"}, step.BehaviourData())
	require.Len(t, step.AllData(), 4)
	require.Equal(t, []string{"!_try", "!finish", "_order", "answer"}, step.VarNames())
}

func TestLoadedStepIsReadOnly(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	step := engine.LoadedStep(11, 2, engine.Complete, ptr(0.5), at, "student-1", map[string]string{"answer": "42"})

	require.True(t, step.IsReadOnly())
	require.Equal(t, int64(11), step.ID())
	require.Equal(t, 2, step.Sequence())
	require.Equal(t, at, step.TimeCreated())
	require.Equal(t, "student-1", step.Actor())

	require.ErrorIs(t, step.SetState(engine.Todo), engine.ErrReadOnlyStep)
	require.ErrorIs(t, step.SetFraction(ptr(1)), engine.ErrReadOnlyStep)
	require.ErrorIs(t, step.SetQtVar("_x", "1"), engine.ErrReadOnlyStep)
	require.ErrorIs(t, step.SetBehaviourVar("_x", "1"), engine.ErrReadOnlyStep)
	require.ErrorIs(t, step.SetNewResponseSummary("x"), engine.ErrReadOnlyStep)

	f := step.Fraction()
	*f = 0.9
	require.Equal(t, 0.5, *step.Fraction())
}

func TestNewStepDefaults(t *testing.T) {
	before := time.Now()
	step := engine.NewStep(nil)
	require.Equal(t, engine.Unprocessed, step.State())
	require.Nil(t, step.Fraction())
	require.False(t, step.TimeCreated().Before(before))
	require.False(t, step.IsReadOnly())

	at := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	step = engine.NewStep(map[string]string{}, engine.At(at), engine.By("teacher-9"))
	require.Equal(t, at, step.TimeCreated())
	require.Equal(t, "teacher-9", step.Actor())
}
