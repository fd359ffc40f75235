package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrSlotNotFound indicates a slot that is not part of the usage.
	ErrSlotNotFound = errors.New("slot not found in usage")
	// ErrInvalidSlotList indicates a malformed slots field in a payload.
	ErrInvalidSlotList = errors.New("invalid slot list")
)

// SlotsField lists the slots a payload carries actions for.
const SlotsField = "slots"

// Usage is a set of question attempts owned by one component and context.
// It is the unit of persistence and is not safe for concurrent use.
type Usage struct {
	id        int64
	tempID    string
	component string
	contextID int64
	attempts  map[int]*Attempt
	nextSlot  int
	env       *settings
}

// NewUsage builds an empty, unpersisted usage.
func NewUsage(component string, contextID int64, opts ...Option) *Usage {
	return &Usage{
		component: component,
		contextID: contextID,
		attempts:  map[int]*Attempt{},
		nextSlot:  1,
		env:       newSettings(opts),
	}
}

// ID returns the persisted id, or a random identifier generated on first
// call that stays stable until the usage is saved.
func (u *Usage) ID() string {
	if u.id > 0 {
		return strconv.FormatInt(u.id, 10)
	}
	if u.tempID == "" {
		u.tempID = "temp-" + uuid.NewString()
	}
	return u.tempID
}

func (u *Usage) PersistedID() int64             { return u.id }
func (u *Usage) IsPersisted() bool              { return u.id > 0 }
func (u *Usage) Component() string              { return u.component }
func (u *Usage) ContextID() int64               { return u.contextID }
func (u *Usage) PreferredBehaviour() string     { return u.env.preferred }
func (u *Usage) Observer() Observer             { return u.env.observer }
func (u *Usage) Behaviours() *BehaviourRegistry { return u.env.behaviours }

// SetPreferredBehaviour changes the behaviour used for questions started from now on.
func (u *Usage) SetPreferredBehaviour(name string) {
	if u.env.preferred == name {
		return
	}
	u.env.preferred = name
	u.env.observer.NotifyModified()
}

// SetActor sets who the following steps are recorded for.
func (u *Usage) SetActor(actor string) { u.env.actor = actor }

// SetObserver replaces the observer of the usage and all its attempts.
func (u *Usage) SetObserver(o Observer) {
	if o == nil {
		o = NullObserver{}
	}
	u.env.observer = o
}

// AddQuestion wraps q in a new attempt under the next slot. A nil maxMark
// uses the question's default mark.
func (u *Usage) AddQuestion(q Question, maxMark *float64) (int, error) {
	if q == nil {
		return 0, ErrNilQuestion
	}
	mark := q.DefaultMark()
	if maxMark != nil {
		mark = *maxMark
	}
	slot := u.nextSlot
	u.nextSlot++
	a := &Attempt{usage: u, slot: slot, definition: q, question: q, maxMark: mark, env: u.env}
	u.attempts[slot] = a
	u.env.observer.NotifyAttemptAdded(a)
	return slot, nil
}

// Attempt returns the attempt in a slot.
func (u *Usage) Attempt(slot int) (*Attempt, error) {
	a, ok := u.attempts[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSlotNotFound, slot)
	}
	return a, nil
}

// Slots lists the slots in ascending order.
func (u *Usage) Slots() []int {
	slots := make([]int, 0, len(u.attempts))
	for slot := range u.attempts {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}

func (u *Usage) QuestionCount() int { return len(u.attempts) }

// StartQuestion starts one attempt with the preferred behaviour.
func (u *Usage) StartQuestion(slot int, opts ...StepOption) error {
	a, err := u.Attempt(slot)
	if err != nil {
		return err
	}
	if err := a.Start(u.env.preferred, nil, opts...); err != nil {
		return err
	}
	u.env.observer.NotifyAttemptModified(a)
	return nil
}

// StartAllQuestions starts every attempt in slot order.
func (u *Usage) StartAllQuestions(opts ...StepOption) error {
	for _, slot := range u.Slots() {
		if err := u.StartQuestion(slot, opts...); err != nil {
			return err
		}
	}
	return nil
}

// StartQuestionBasedOn starts a slot from the resume data of another attempt.
func (u *Usage) StartQuestionBasedOn(slot int, other *Attempt, opts ...StepOption) error {
	a, err := u.Attempt(slot)
	if err != nil {
		return err
	}
	if err := a.StartBasedOn(other, u.env.preferred, opts...); err != nil {
		return err
	}
	u.env.observer.NotifyAttemptModified(a)
	return nil
}

// ProcessAction processes already extracted data for one slot.
func (u *Usage) ProcessAction(slot int, data map[string]string, opts ...StepOption) (Verdict, error) {
	a, err := u.Attempt(slot)
	if err != nil {
		return Discard, err
	}
	verdict, err := a.ProcessAction(data, opts...)
	if err != nil {
		return Discard, err
	}
	if verdict == Keep {
		u.env.observer.NotifyAttemptModified(a)
	}
	return verdict, nil
}

// ProcessAllActions processes a usage-wide payload. The slots field selects
// which attempts get actions; flags are applied to every attempt regardless.
func (u *Usage) ProcessAllActions(payload map[string]string, opts ...StepOption) (map[int]Verdict, error) {
	slots, err := u.SlotsInPayload(payload)
	if err != nil {
		return nil, err
	}
	verdicts := make(map[int]Verdict, len(slots))
	for _, slot := range slots {
		data, err := u.ExtractResponses(slot, payload)
		if err != nil {
			return nil, err
		}
		verdict, err := u.ProcessAction(slot, data, opts...)
		if err != nil {
			return nil, err
		}
		verdicts[slot] = verdict
	}
	u.UpdateQuestionFlags(payload)
	return verdicts, nil
}

// SlotsInPayload reads the slots field: absent means all, empty means none.
func (u *Usage) SlotsInPayload(payload map[string]string) ([]int, error) {
	raw, ok := payload[SlotsField]
	if !ok {
		return u.Slots(), nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	slots := make([]int, 0, len(parts))
	for _, part := range parts {
		slot, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSlotList, raw)
		}
		if _, ok := u.attempts[slot]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrSlotNotFound, slot)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// ExtractResponses returns one slot's slice of a payload.
func (u *Usage) ExtractResponses(slot int, payload map[string]string) (map[string]string, error) {
	a, err := u.Attempt(slot)
	if err != nil {
		return nil, err
	}
	return a.SubmittedDataFrom(payload)
}

// UpdateQuestionFlags applies flag fields present in the payload.
func (u *Usage) UpdateQuestionFlags(payload map[string]string) {
	for _, slot := range u.Slots() {
		a := u.attempts[slot]
		raw, ok := payload[a.FlagFieldName()]
		if !ok {
			continue
		}
		v, _ := CleanParam(raw, ParamBool)
		a.SetFlagged(v == "1")
	}
}

// FinishQuestion finishes one slot.
func (u *Usage) FinishQuestion(slot int, opts ...StepOption) (Verdict, error) {
	return u.ProcessAction(slot, map[string]string{behaviourVarPrefix + "finish": "1"}, opts...)
}

// FinishAllQuestions finishes every slot in order.
func (u *Usage) FinishAllQuestions(opts ...StepOption) error {
	for _, slot := range u.Slots() {
		if _, err := u.FinishQuestion(slot, opts...); err != nil {
			return err
		}
	}
	return nil
}

// ManualGradeQuestion comments on one slot with an optional mark.
func (u *Usage) ManualGradeQuestion(slot int, comment string, mark *float64, opts ...StepOption) (Verdict, error) {
	a, err := u.Attempt(slot)
	if err != nil {
		return Discard, err
	}
	verdict, err := a.ManualGrade(comment, mark, opts...)
	if err != nil {
		return Discard, err
	}
	if verdict == Keep {
		u.env.observer.NotifyAttemptModified(a)
	}
	return verdict, nil
}

// RegradeQuestion replaces a slot's attempt with a replayed copy.
func (u *Usage) RegradeQuestion(slot int, newMaxMark *float64) error {
	return u.RegradeQuestionWith(slot, nil, newMaxMark)
}

// RegradeQuestionWith replays a slot through an updated question definition.
func (u *Usage) RegradeQuestionWith(slot int, q Question, newMaxMark *float64) error {
	old, err := u.Attempt(slot)
	if err != nil {
		return err
	}
	regraded, err := RegradeAttempt(old, q, newMaxMark)
	if err != nil {
		return err
	}
	u.attempts[slot] = regraded
	u.env.observer.NotifyAttemptRegraded(regraded)
	return nil
}

// RegradeAll regrades every started slot keeping max marks.
func (u *Usage) RegradeAll() error {
	for _, slot := range u.Slots() {
		if !u.attempts[slot].IsStarted() {
			continue
		}
		if err := u.RegradeQuestion(slot, nil); err != nil {
			return err
		}
	}
	return nil
}

// SetQuestionFlagged sets the flag of one slot.
func (u *Usage) SetQuestionFlagged(slot int, flagged bool) error {
	a, err := u.Attempt(slot)
	if err != nil {
		return err
	}
	a.SetFlagged(flagged)
	return nil
}

// TotalMark sums the marks of all attempts. Ungraded attempts count as 0;
// use HasUngradedQuestions to tell the difference.
func (u *Usage) TotalMark() float64 {
	total := 0.0
	for _, a := range u.attempts {
		if m := a.Mark(); m != nil {
			total += *m
		}
	}
	return total
}

// MaxTotalMark sums the max marks of all attempts.
func (u *Usage) MaxTotalMark() float64 {
	total := 0.0
	for _, a := range u.attempts {
		total += a.maxMark
	}
	return total
}

// HasUngradedQuestions reports whether any marked attempt has no fraction yet.
func (u *Usage) HasUngradedQuestions() bool {
	for _, a := range u.attempts {
		if a.maxMark > 0 && a.Fraction() == nil {
			return true
		}
	}
	return false
}
