package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUsageNotFound indicates the record stream has no rows for the usage.
	ErrUsageNotFound = errors.New("question usage not found")
	// ErrUnorderedRecords indicates rows not ordered by slot then sequence.
	ErrUnorderedRecords = errors.New("usage records out of order")
)

// UsageRecord is one row of the usage table.
type UsageRecord struct {
	ID                 int64  `json:"id"`
	Component          string `json:"component"`
	ContextID          int64  `json:"context_id"`
	PreferredBehaviour string `json:"preferred_behaviour"`
}

// AttemptRecord is one row of the attempt table.
type AttemptRecord struct {
	ID              int64     `json:"id"`
	UsageID         int64     `json:"usage_id"`
	Slot            int       `json:"slot"`
	Behaviour       string    `json:"behaviour"`
	QuestionID      int64     `json:"question_id"`
	MaxMark         float64   `json:"max_mark"`
	MinFraction     float64   `json:"min_fraction"`
	Flagged         bool      `json:"flagged"`
	QuestionSummary string    `json:"question_summary"`
	ResponseSummary string    `json:"response_summary"`
	RightAnswer     string    `json:"right_answer"`
	TimeModified    time.Time `json:"time_modified"`
}

// StepRecord is one row of the step table.
type StepRecord struct {
	ID          int64     `json:"id"`
	AttemptID   int64     `json:"attempt_id"`
	Sequence    int       `json:"sequence"`
	State       State     `json:"state"`
	Fraction    *float64  `json:"fraction"`
	TimeCreated time.Time `json:"time_created"`
	Actor       string    `json:"actor"`
}

// StepDataRecord is one variable of one step.
type StepDataRecord struct {
	StepID int64  `json:"step_id"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

// Row is one line of the joined usage load. Attempt, Step and Data are nil
// where the outer join found nothing.
type Row struct {
	Usage   UsageRecord
	Attempt *AttemptRecord
	Step    *StepRecord
	Data    *StepDataRecord
}

// RecordStore persists the four engine tables.
type RecordStore interface {
	InsertUsage(ctx context.Context, rec UsageRecord) (int64, error)
	UpdateUsage(ctx context.Context, rec UsageRecord) error
	DeleteUsage(ctx context.Context, usageID int64) error
	InsertAttempt(ctx context.Context, rec AttemptRecord) (int64, error)
	UpdateAttempt(ctx context.Context, rec AttemptRecord) error
	InsertStep(ctx context.Context, rec StepRecord, data []StepDataRecord) (int64, error)
	DeleteSteps(ctx context.Context, attemptID int64) error
	// LoadUsageRows must return rows ordered by slot, sequence and variable name.
	LoadUsageRows(ctx context.Context, usageID int64) ([]Row, error)
	Transaction(ctx context.Context, fn func(tx RecordStore) error) error
}

func usageRecord(u *Usage) UsageRecord {
	return UsageRecord{
		ID:                 u.id,
		Component:          u.component,
		ContextID:          u.contextID,
		PreferredBehaviour: u.env.preferred,
	}
}

func attemptRecord(usageID int64, a *Attempt) AttemptRecord {
	rec := AttemptRecord{
		ID:              a.id,
		UsageID:         usageID,
		Slot:            a.slot,
		Behaviour:       a.BehaviourName(),
		QuestionID:      a.question.ID(),
		MaxMark:         a.maxMark,
		Flagged:         a.flagged,
		QuestionSummary: a.questionSummary,
		ResponseSummary: a.responseSummary,
		RightAnswer:     a.rightAnswer,
		TimeModified:    a.env.now(),
	}
	if a.minFraction != nil {
		rec.MinFraction = *a.minFraction
	}
	return rec
}

func stepRecord(attemptID int64, s *Step) StepRecord {
	return StepRecord{
		ID:          s.id,
		AttemptID:   attemptID,
		Sequence:    s.sequence,
		State:       s.state,
		Fraction:    copyFraction(s.fraction),
		TimeCreated: s.timeCreated,
		Actor:       s.actor,
	}
}

func stepData(stepID int64, s *Step) []StepDataRecord {
	names := s.VarNames()
	out := make([]StepDataRecord, 0, len(names))
	for _, name := range names {
		out = append(out, StepDataRecord{StepID: stepID, Name: name, Value: s.data[name]})
	}
	return out
}

// idAssignments defers writing store ids into the object graph until the
// transaction that produced them has committed.
type idAssignments struct {
	usage    func()
	attempts []func()
	steps    []func()
}

func (ids *idAssignments) apply() {
	if ids.usage != nil {
		ids.usage()
	}
	for _, f := range ids.attempts {
		f()
	}
	for _, f := range ids.steps {
		f()
	}
}

func insertStep(ctx context.Context, store RecordStore, attemptID int64, s *Step, ids *idAssignments) error {
	id, err := store.InsertStep(ctx, stepRecord(attemptID, s), stepData(0, s))
	if err != nil {
		return fmt.Errorf("insert step %d of attempt %d: %w", s.sequence, attemptID, err)
	}
	ids.steps = append(ids.steps, func() { s.setID(id) })
	return nil
}

func insertAttempt(ctx context.Context, store RecordStore, usageID int64, a *Attempt, ids *idAssignments) error {
	id, err := store.InsertAttempt(ctx, attemptRecord(usageID, a))
	if err != nil {
		return fmt.Errorf("insert slot %d: %w", a.slot, err)
	}
	ids.attempts = append(ids.attempts, func() { a.id = id })
	for _, step := range a.steps {
		if err := insertStep(ctx, store, id, step, ids); err != nil {
			return err
		}
	}
	return nil
}

func insertUsage(ctx context.Context, store RecordStore, u *Usage, ids *idAssignments) error {
	id, err := store.InsertUsage(ctx, usageRecord(u))
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	ids.usage = func() { u.id = id }
	for _, slot := range u.Slots() {
		if err := insertAttempt(ctx, store, id, u.attempts[slot], ids); err != nil {
			return err
		}
	}
	return nil
}

// LoadUsageFromRows folds the joined rows of one usage back into the
// object graph. Rows must be ordered by slot then step sequence; the fold
// walks them once with a cursor and groups by attempt and step identity.
func LoadUsageFromRows(ctx context.Context, usageID int64, rows []Row, questions QuestionSource, opts ...Option) (*Usage, error) {
	if len(rows) == 0 || rows[0].Usage.ID != usageID {
		return nil, fmt.Errorf("%w: %d", ErrUsageNotFound, usageID)
	}
	head := rows[0].Usage
	opts = append([]Option{WithPreferredBehaviour(head.PreferredBehaviour)}, opts...)
	u := NewUsage(head.Component, head.ContextID, opts...)
	u.id = head.ID

	lastSlot := 0
	for i := 0; i < len(rows); {
		if rows[i].Usage.ID != usageID {
			return nil, fmt.Errorf("%w: row %d belongs to usage %d", ErrUnorderedRecords, i, rows[i].Usage.ID)
		}
		if rows[i].Attempt == nil {
			i++
			continue
		}
		rec := *rows[i].Attempt
		if rec.Slot <= lastSlot {
			return nil, fmt.Errorf("%w: slot %d after slot %d", ErrUnorderedRecords, rec.Slot, lastSlot)
		}
		q, err := questions.Question(ctx, rec.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("load slot %d of usage %d: %w", rec.Slot, usageID, err)
		}
		a, next, err := loadAttempt(u, rec, q, rows, i)
		if err != nil {
			return nil, err
		}
		u.attempts[a.slot] = a
		lastSlot = rec.Slot
		i = next
	}
	u.nextSlot = lastSlot + 1
	return u, nil
}

// loadAttempt consumes the rows of one attempt starting at i and returns
// the index of the first row after it.
func loadAttempt(u *Usage, rec AttemptRecord, q Question, rows []Row, i int) (*Attempt, int, error) {
	minFraction := rec.MinFraction
	a := &Attempt{
		id:              rec.ID,
		usage:           u,
		slot:            rec.Slot,
		definition:      q,
		question:        q,
		maxMark:         rec.MaxMark,
		minFraction:     &minFraction,
		flagged:         rec.Flagged,
		questionSummary: rec.QuestionSummary,
		responseSummary: rec.ResponseSummary,
		rightAnswer:     rec.RightAnswer,
		env:             u.env,
	}

	sameAttempt := func(j int) bool {
		return j < len(rows) && rows[j].Attempt != nil &&
			rows[j].Attempt.ID == rec.ID && rows[j].Attempt.Slot == rec.Slot
	}
	for sameAttempt(i) {
		if rows[i].Step == nil {
			i++
			continue
		}
		sr := *rows[i].Step
		if sr.Sequence != len(a.steps) {
			return nil, 0, fmt.Errorf("%w: slot %d step %d at position %d", ErrUnorderedRecords, rec.Slot, sr.Sequence, len(a.steps))
		}
		data := map[string]string{}
		for sameAttempt(i) && rows[i].Step != nil &&
			rows[i].Step.ID == sr.ID && rows[i].Step.Sequence == sr.Sequence {
			if d := rows[i].Data; d != nil {
				data[d.Name] = d.Value
			}
			i++
		}
		a.steps = append(a.steps, LoadedStep(sr.ID, sr.Sequence, sr.State, sr.Fraction, sr.TimeCreated, sr.Actor, data))
	}

	if len(a.steps) == 0 || rec.Behaviour == "" {
		a.minFraction = nil
		return a, i, nil
	}
	if err := a.applyAttemptState(a.steps[0]); err != nil {
		return nil, 0, fmt.Errorf("load slot %d: %w", rec.Slot, err)
	}
	a.behaviour = u.env.behaviours.Make(rec.Behaviour, a)
	return a, i, nil
}
