package engine_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-question-engine/internal/engine"
)

// memStore is an in-memory RecordStore whose transactions work on a copy.
type memStore struct {
	nextID   int64
	usages   map[int64]engine.UsageRecord
	attempts map[int64]engine.AttemptRecord
	steps    map[int64]engine.StepRecord
	data     map[int64][]engine.StepDataRecord
	calls    map[string]int
	failOn   string
}

func newMemStore() *memStore {
	return &memStore{
		usages:   map[int64]engine.UsageRecord{},
		attempts: map[int64]engine.AttemptRecord{},
		steps:    map[int64]engine.StepRecord{},
		data:     map[int64][]engine.StepDataRecord{},
		calls:    map[string]int{},
	}
}

var errInjected = errors.New("injected failure")

func (m *memStore) hit(name string) error {
	m.calls[name]++
	if m.failOn == name {
		return errInjected
	}
	return nil
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) InsertUsage(_ context.Context, rec engine.UsageRecord) (int64, error) {
	if err := m.hit("InsertUsage"); err != nil {
		return 0, err
	}
	rec.ID = m.id()
	m.usages[rec.ID] = rec
	return rec.ID, nil
}

func (m *memStore) UpdateUsage(_ context.Context, rec engine.UsageRecord) error {
	if err := m.hit("UpdateUsage"); err != nil {
		return err
	}
	m.usages[rec.ID] = rec
	return nil
}

func (m *memStore) DeleteUsage(_ context.Context, usageID int64) error {
	if err := m.hit("DeleteUsage"); err != nil {
		return err
	}
	for id, a := range m.attempts {
		if a.UsageID == usageID {
			m.dropSteps(id)
			delete(m.attempts, id)
		}
	}
	delete(m.usages, usageID)
	return nil
}

func (m *memStore) InsertAttempt(_ context.Context, rec engine.AttemptRecord) (int64, error) {
	if err := m.hit("InsertAttempt"); err != nil {
		return 0, err
	}
	rec.ID = m.id()
	m.attempts[rec.ID] = rec
	return rec.ID, nil
}

func (m *memStore) UpdateAttempt(_ context.Context, rec engine.AttemptRecord) error {
	if err := m.hit("UpdateAttempt"); err != nil {
		return err
	}
	m.attempts[rec.ID] = rec
	return nil
}

func (m *memStore) InsertStep(_ context.Context, rec engine.StepRecord, data []engine.StepDataRecord) (int64, error) {
	if err := m.hit("InsertStep"); err != nil {
		return 0, err
	}
	rec.ID = m.id()
	m.steps[rec.ID] = rec
	for _, d := range data {
		d.StepID = rec.ID
		m.data[rec.ID] = append(m.data[rec.ID], d)
	}
	return rec.ID, nil
}

func (m *memStore) DeleteSteps(_ context.Context, attemptID int64) error {
	if err := m.hit("DeleteSteps"); err != nil {
		return err
	}
	m.dropSteps(attemptID)
	return nil
}

func (m *memStore) dropSteps(attemptID int64) {
	for id, s := range m.steps {
		if s.AttemptID == attemptID {
			delete(m.steps, id)
			delete(m.data, id)
		}
	}
}

func (m *memStore) LoadUsageRows(_ context.Context, usageID int64) ([]engine.Row, error) {
	u, ok := m.usages[usageID]
	if !ok {
		return nil, nil
	}
	var attempts []engine.AttemptRecord
	for _, a := range m.attempts {
		if a.UsageID == usageID {
			attempts = append(attempts, a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Slot < attempts[j].Slot })

	var rows []engine.Row
	for i := range attempts {
		a := attempts[i]
		var steps []engine.StepRecord
		for _, s := range m.steps {
			if s.AttemptID == a.ID {
				steps = append(steps, s)
			}
		}
		sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })
		if len(steps) == 0 {
			rows = append(rows, engine.Row{Usage: u, Attempt: &a})
			continue
		}
		for j := range steps {
			s := steps[j]
			data := m.data[s.ID]
			if len(data) == 0 {
				rows = append(rows, engine.Row{Usage: u, Attempt: &a, Step: &s})
				continue
			}
			for k := range data {
				d := data[k]
				rows = append(rows, engine.Row{Usage: u, Attempt: &a, Step: &s, Data: &d})
			}
		}
	}
	if len(rows) == 0 {
		rows = append(rows, engine.Row{Usage: u})
	}
	return rows, nil
}

func (m *memStore) clone() *memStore {
	c := newMemStore()
	c.nextID, c.calls, c.failOn = m.nextID, m.calls, m.failOn
	for k, v := range m.usages {
		c.usages[k] = v
	}
	for k, v := range m.attempts {
		c.attempts[k] = v
	}
	for k, v := range m.steps {
		c.steps[k] = v
	}
	for k, v := range m.data {
		c.data[k] = append([]engine.StepDataRecord(nil), v...)
	}
	return c
}

func (m *memStore) Transaction(_ context.Context, fn func(tx engine.RecordStore) error) error {
	tx := m.clone()
	if err := fn(tx); err != nil {
		return err
	}
	*m = *tx
	return nil
}

func startedUsage(t *testing.T) (*engine.Usage, engine.QuestionMap) {
	t.Helper()
	questions := engine.QuestionMap{1: shortAnswer(t, 1, "42"), 2: essayQuestion(t, 2)}
	u := newUsage()
	_, err := u.AddQuestion(questions[1], nil)
	require.NoError(t, err)
	_, err = u.AddQuestion(questions[2], nil)
	require.NoError(t, err)
	require.NoError(t, u.StartAllQuestions())
	_, err = u.ProcessAction(1, map[string]string{"answer": "42"})
	require.NoError(t, err)
	return u, questions
}

func TestDataMapperInsertAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mapper := engine.NewDataMapper(store)
	u, questions := startedUsage(t)

	require.NoError(t, mapper.Save(ctx, u))
	require.True(t, u.IsPersisted())
	require.Equal(t, 1, store.calls["InsertUsage"])
	require.Equal(t, 2, store.calls["InsertAttempt"])
	require.Equal(t, 3, store.calls["InsertStep"])

	loaded, err := mapper.Load(ctx, u.PersistedID(), questions, engine.WithBehaviours(behaviours()))
	require.NoError(t, err)
	require.Equal(t, u.ID(), loaded.ID())
	require.Equal(t, "mod_quiz", loaded.Component())
	require.Equal(t, int64(7), loaded.ContextID())
	require.Equal(t, u.PreferredBehaviour(), loaded.PreferredBehaviour())
	require.Equal(t, []int{1, 2}, loaded.Slots())

	orig, _ := u.Attempt(1)
	got, _ := loaded.Attempt(1)
	require.Equal(t, orig.NumSteps(), got.NumSteps())
	require.Equal(t, orig.State(), got.State())
	require.Equal(t, orig.BehaviourName(), got.BehaviourName())
	require.Equal(t, orig.ResponseSummary(), got.ResponseSummary())
	for i, s := range orig.Steps() {
		ls, _ := got.Step(i)
		require.True(t, ls.IsReadOnly())
		require.Equal(t, s.ID(), ls.ID())
		require.Equal(t, s.AllData(), ls.AllData())
		require.True(t, s.TimeCreated().Equal(ls.TimeCreated()))
	}

	essay, _ := loaded.Attempt(2)
	require.Equal(t, "manualgraded", essay.BehaviourName())

	slot, err := loaded.AddQuestion(questions[1], nil)
	require.NoError(t, err)
	require.Equal(t, 3, slot)
}

func TestDataMapperFlushesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mapper := engine.NewDataMapper(store)
	u, questions := startedUsage(t)
	require.NoError(t, mapper.Save(ctx, u))

	loaded, err := mapper.Load(ctx, u.PersistedID(), questions, engine.WithBehaviours(behaviours()))
	require.NoError(t, err)
	uow, ok := loaded.Observer().(*engine.UnitOfWork)
	require.True(t, ok)
	require.False(t, uow.HasChanges())

	store.calls = map[string]int{}
	_, err = loaded.FinishQuestion(1)
	require.NoError(t, err)
	slot, err := loaded.AddQuestion(questions[1], nil)
	require.NoError(t, err)
	require.NoError(t, loaded.StartQuestion(slot))
	_, err = loaded.ProcessAction(slot, map[string]string{"answer": "7"})
	require.NoError(t, err)

	steps, added, modified, regraded := uow.Counts()
	require.Equal(t, 1, steps)
	require.Equal(t, 1, added)
	require.Equal(t, 1, modified)
	require.Zero(t, regraded)

	require.NoError(t, mapper.Save(ctx, loaded))
	require.Equal(t, 3, store.calls["InsertStep"])
	require.Equal(t, 1, store.calls["InsertAttempt"])
	require.Equal(t, 1, store.calls["UpdateAttempt"])
	require.Zero(t, store.calls["UpdateUsage"])

	again, err := mapper.Load(ctx, u.PersistedID(), questions, engine.WithBehaviours(behaviours()))
	require.NoError(t, err)
	first, _ := again.Attempt(1)
	require.Equal(t, engine.GradedRight, first.State())
	third, _ := again.Attempt(3)
	require.Equal(t, 2, third.NumSteps())

	require.NoError(t, mapper.Save(ctx, again))
}

func TestDataMapperRegradeReplacesSteps(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mapper := engine.NewDataMapper(store)
	u, questions := startedUsage(t)
	_, err := u.FinishQuestion(1)
	require.NoError(t, err)
	require.NoError(t, mapper.Save(ctx, u))

	loaded, err := mapper.Load(ctx, u.PersistedID(), questions, engine.WithBehaviours(behaviours()))
	require.NoError(t, err)
	_, err = loaded.ManualGradeQuestion(1, "looked again", nil)
	require.NoError(t, err)
	require.NoError(t, loaded.RegradeQuestionWith(1, shortAnswer(t, 1, "43"), nil))

	store.calls = map[string]int{}
	require.NoError(t, mapper.Save(ctx, loaded))
	require.Equal(t, 1, store.calls["DeleteSteps"])
	require.Equal(t, 4, store.calls["InsertStep"])
	require.Equal(t, 1, store.calls["UpdateAttempt"])

	again, err := mapper.Load(ctx, u.PersistedID(), engine.QuestionMap{1: shortAnswer(t, 1, "43"), 2: questions[2]}, engine.WithBehaviours(behaviours()))
	require.NoError(t, err)
	first, _ := again.Attempt(1)
	require.Equal(t, 4, first.NumSteps())
	require.Equal(t, engine.ManuallyGradedPartial, first.State())
}

func TestDataMapperFailedFlushLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failOn = "InsertStep"
	mapper := engine.NewDataMapper(store)
	u, _ := startedUsage(t)

	err := mapper.Save(ctx, u)
	require.ErrorIs(t, err, errInjected)
	require.False(t, u.IsPersisted())
	require.Empty(t, store.usages)
	require.Empty(t, store.attempts)
	a, _ := u.Attempt(1)
	require.Zero(t, a.ID())
}

func TestDataMapperDelete(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mapper := engine.NewDataMapper(store)
	u, questions := startedUsage(t)
	require.NoError(t, mapper.Save(ctx, u))

	require.NoError(t, mapper.Delete(ctx, u.PersistedID()))
	require.Empty(t, store.steps)
	_, err := mapper.Load(ctx, u.PersistedID(), questions)
	require.ErrorIs(t, err, engine.ErrUsageNotFound)
}

func TestDataMapperSaveNeedsUnitOfWork(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mapper := engine.NewDataMapper(store)
	u, _ := startedUsage(t)
	require.NoError(t, mapper.Save(ctx, u))

	u.SetObserver(nil)
	require.ErrorIs(t, mapper.Save(ctx, u), engine.ErrNoUnitOfWork)
}

func TestLoadUsageFromRowsRejectsBadStreams(t *testing.T) {
	ctx := context.Background()
	questions := engine.QuestionMap{1: shortAnswer(t, 1, "42")}

	_, err := engine.LoadUsageFromRows(ctx, 5, nil, questions)
	require.ErrorIs(t, err, engine.ErrUsageNotFound)

	usage := engine.UsageRecord{ID: 5, Component: "mod_quiz"}
	a1 := engine.AttemptRecord{ID: 10, UsageID: 5, Slot: 1, Behaviour: "deferredfeedback", QuestionID: 1, MaxMark: 1}
	a2 := engine.AttemptRecord{ID: 11, UsageID: 5, Slot: 2, Behaviour: "deferredfeedback", QuestionID: 1, MaxMark: 1}
	s0 := engine.StepRecord{ID: 100, AttemptID: 10, Sequence: 0, State: engine.Todo}
	s1 := engine.StepRecord{ID: 101, AttemptID: 10, Sequence: 1, State: engine.Todo}

	_, err = engine.LoadUsageFromRows(ctx, 6, []engine.Row{{Usage: usage}}, questions)
	require.ErrorIs(t, err, engine.ErrUsageNotFound)

	_, err = engine.LoadUsageFromRows(ctx, 5, []engine.Row{
		{Usage: usage, Attempt: &a2},
		{Usage: usage, Attempt: &a1},
	}, questions)
	require.ErrorIs(t, err, engine.ErrUnorderedRecords)

	_, err = engine.LoadUsageFromRows(ctx, 5, []engine.Row{
		{Usage: usage, Attempt: &a1, Step: &s1},
		{Usage: usage, Attempt: &a1, Step: &s0},
	}, questions)
	require.ErrorIs(t, err, engine.ErrUnorderedRecords)

	missing := engine.AttemptRecord{ID: 12, UsageID: 5, Slot: 1, Behaviour: "deferredfeedback", QuestionID: 99}
	_, err = engine.LoadUsageFromRows(ctx, 5, []engine.Row{{Usage: usage, Attempt: &missing}}, questions)
	require.ErrorIs(t, err, engine.ErrQuestionNotFound)

	u, err := engine.LoadUsageFromRows(ctx, 5, []engine.Row{
		{Usage: usage, Attempt: &a1, Step: &s0},
		{Usage: usage, Attempt: &a1, Step: &s1, Data: &engine.StepDataRecord{StepID: 101, Name: "answer", Value: "42"}},
		{Usage: usage, Attempt: &a2},
	}, questions, engine.WithBehaviours(behaviours()))
	require.NoError(t, err)
	first, _ := u.Attempt(1)
	require.Equal(t, 2, first.NumSteps())
	require.Equal(t, "42", first.LastQtVar("answer", ""))
	second, _ := u.Attempt(2)
	require.False(t, second.IsStarted())
}
