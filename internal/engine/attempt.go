package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotStarted is returned by operations that need a started attempt.
	ErrNotStarted = errors.New("question attempt not started")
	// ErrAlreadyStarted is returned when start is called on an attempt with steps.
	ErrAlreadyStarted = errors.New("question attempt already started")
	// ErrStepOutOfRange indicates a step index outside the attempt's log.
	ErrStepOutOfRange = errors.New("step index out of range")
	// ErrNilQuestion indicates an attempt was requested without a question definition.
	ErrNilQuestion = errors.New("question is required")
)

// Attempt is the ordered step log of one question instance inside a usage.
// It is not safe for concurrent use.
type Attempt struct {
	id          int64
	usage       *Usage
	slot        int
	definition  Question
	question    Question
	behaviour   Behaviour
	maxMark     float64
	minFraction *float64
	flagged     bool

	questionSummary string
	responseSummary string
	rightAnswer     string

	steps []*Step
	env   *settings
}

// NewAttempt builds an unstarted attempt that does not belong to a usage.
func NewAttempt(q Question, maxMark float64, opts ...Option) (*Attempt, error) {
	if q == nil {
		return nil, ErrNilQuestion
	}
	return &Attempt{definition: q, question: q, maxMark: maxMark, slot: 1, env: newSettings(opts)}, nil
}

func (a *Attempt) ID() int64                  { return a.id }
func (a *Attempt) Slot() int                  { return a.slot }
func (a *Attempt) Question() Question         { return a.question }
func (a *Attempt) Definition() Question       { return a.definition }
func (a *Attempt) MaxMark() float64           { return a.maxMark }
func (a *Attempt) IsFlagged() bool            { return a.flagged }
func (a *Attempt) IsStarted() bool            { return len(a.steps) > 0 }
func (a *Attempt) NumSteps() int              { return len(a.steps) }
func (a *Attempt) QuestionSummary() string    { return a.questionSummary }
func (a *Attempt) ResponseSummary() string    { return a.responseSummary }
func (a *Attempt) RightAnswerSummary() string { return a.rightAnswer }

// Behaviour returns the attached behaviour, nil before start.
func (a *Attempt) Behaviour() Behaviour { return a.behaviour }

// BehaviourName returns the attached behaviour's name, empty before start.
func (a *Attempt) BehaviourName() string {
	if a.behaviour == nil {
		return ""
	}
	return a.behaviour.Name()
}

// MinFraction is only known once a behaviour is attached.
func (a *Attempt) MinFraction() (float64, error) {
	if a.minFraction == nil {
		return 0, ErrNotStarted
	}
	return *a.minFraction, nil
}

// Start attaches the behaviour chosen by the question for the preferred
// name and appends the first step in state Todo.
func (a *Attempt) Start(preferred string, submitted map[string]string, opts ...StepOption) error {
	if a.IsStarted() {
		return fmt.Errorf("%w: slot %d", ErrAlreadyStarted, a.slot)
	}
	return a.startWith(a.definition.BehaviourFor(preferred), submitted, opts)
}

// StartBasedOn starts the attempt from where another attempt left off.
func (a *Attempt) StartBasedOn(other *Attempt, preferred string, opts ...StepOption) error {
	data, err := other.ResumeData()
	if err != nil {
		return err
	}
	return a.Start(preferred, data, opts...)
}

func (a *Attempt) startWith(name string, submitted map[string]string, opts []StepOption) error {
	if a.IsStarted() {
		return fmt.Errorf("%w: slot %d", ErrAlreadyStarted, a.slot)
	}
	behaviour := a.env.behaviours.Make(name, a)
	minFraction := behaviour.MinFraction()

	first := a.newStep(submitted, opts)
	first.state = Todo

	a.behaviour = behaviour
	a.minFraction = &minFraction
	err := behaviour.InitFirstStep(first)
	if err == nil {
		err = a.applyAttemptState(first)
	}
	if err != nil {
		a.behaviour = nil
		a.minFraction = nil
		a.question = a.definition
		return fmt.Errorf("init first step of slot %d: %w", a.slot, err)
	}
	a.appendStep(first)

	a.questionSummary = behaviour.QuestionSummary()
	a.rightAnswer = behaviour.RightAnswerSummary()
	if first.newResponseSummary != nil {
		a.responseSummary = *first.newResponseSummary
	}
	return nil
}

// ProcessAction runs submitted data through the behaviour. A discarded
// action leaves the attempt untouched.
func (a *Attempt) ProcessAction(data map[string]string, opts ...StepOption) (Verdict, error) {
	if !a.IsStarted() || a.behaviour == nil {
		return Discard, fmt.Errorf("%w: slot %d", ErrNotStarted, a.slot)
	}
	pending := a.newStep(data, opts)
	verdict, err := a.behaviour.ProcessAction(pending)
	if err != nil {
		return Discard, err
	}
	if verdict != Keep {
		return Discard, nil
	}
	a.appendStep(pending)
	if pending.newResponseSummary != nil {
		a.responseSummary = *pending.newResponseSummary
	}
	return Keep, nil
}

// Finish submits the conventional finish action.
func (a *Attempt) Finish(opts ...StepOption) (Verdict, error) {
	return a.ProcessAction(map[string]string{behaviourVarPrefix + "finish": "1"}, opts...)
}

// ManualGrade submits a comment and, when mark is set, a mark out of the max mark.
func (a *Attempt) ManualGrade(comment string, mark *float64, opts ...StepOption) (Verdict, error) {
	comment, _ = CleanParam(comment, CommentExpectedData()["comment"])
	data := map[string]string{behaviourVarPrefix + "comment": comment}
	if mark != nil {
		data[behaviourVarPrefix+"mark"] = formatFloat(*mark)
		data[behaviourVarPrefix+"maxmark"] = formatFloat(a.maxMark)
	}
	return a.ProcessAction(data, opts...)
}

// Regrade replays every step of old into this unstarted attempt. The first
// step is replayed with all of its data, the rest with submitted data only,
// each keeping its original time and actor.
func (a *Attempt) Regrade(old *Attempt) error {
	if a.IsStarted() {
		return fmt.Errorf("%w: slot %d", ErrAlreadyStarted, a.slot)
	}
	if !old.IsStarted() {
		return nil
	}
	for i, step := range old.steps {
		opts := []StepOption{At(step.TimeCreated()), By(step.Actor())}
		if i == 0 {
			if err := a.startWith(old.BehaviourName(), step.AllData(), opts); err != nil {
				return fmt.Errorf("regrade slot %d: %w", a.slot, err)
			}
			continue
		}
		if _, err := a.ProcessAction(step.SubmittedData(), opts...); err != nil {
			return fmt.Errorf("regrade slot %d step %d: %w", a.slot, i, err)
		}
	}
	a.flagged = old.flagged
	return nil
}

// RegradeAttempt builds a replacement for old by replaying its steps through
// q, or through old's question when q is nil. Observers are not told about
// the replayed steps. A nil maxMark keeps the old one.
func RegradeAttempt(old *Attempt, q Question, maxMark *float64) (*Attempt, error) {
	if q == nil {
		q = old.definition
	}
	env := *old.env
	env.observer = NullObserver{}
	regraded := &Attempt{
		id:         old.id,
		usage:      old.usage,
		slot:       old.slot,
		definition: q,
		question:   q,
		maxMark:    old.maxMark,
		env:        &env,
	}
	if maxMark != nil {
		regraded.maxMark = *maxMark
	}
	if err := regraded.Regrade(old); err != nil {
		return nil, err
	}
	regraded.env = old.env
	return regraded, nil
}

// State is the state of the latest step, NotStarted when there is none.
func (a *Attempt) State() State { return a.LastStep().State() }

// Fraction is the fraction of the latest step, nil when ungraded.
func (a *Attempt) Fraction() *float64 { return a.LastStep().Fraction() }

// Mark scales the fraction by the max mark, nil when ungraded.
func (a *Attempt) Mark() *float64 {
	f := a.Fraction()
	if f == nil {
		return nil
	}
	m := *f * a.maxMark
	return &m
}

// Step returns the step at index i.
func (a *Attempt) Step(i int) (*Step, error) {
	if i < 0 || i >= len(a.steps) {
		return nil, fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, i, len(a.steps))
	}
	return a.steps[i], nil
}

// Steps returns the step log in sequence order.
func (a *Attempt) Steps() []*Step {
	out := make([]*Step, len(a.steps))
	copy(out, a.steps)
	return out
}

// LastStep returns the latest step or the read-only null step.
func (a *Attempt) LastStep() *Step {
	if len(a.steps) == 0 {
		return nullStep
	}
	return a.steps[len(a.steps)-1]
}

func (a *Attempt) firstStep() *Step {
	if len(a.steps) == 0 {
		return nullStep
	}
	return a.steps[0]
}

// LastQtData returns the response data of the latest step that has any.
func (a *Attempt) LastQtData() map[string]string {
	for i := len(a.steps) - 1; i >= 0; i-- {
		if a.steps[i].HasResponseData() {
			return a.steps[i].ResponseData()
		}
	}
	return map[string]string{}
}

// LastStepWithQtVar returns the latest step holding name, or the null step.
func (a *Attempt) LastStepWithQtVar(name string) *Step {
	for i := len(a.steps) - 1; i >= 0; i-- {
		if a.steps[i].HasQtVar(name) {
			return a.steps[i]
		}
	}
	return nullStep
}

// LastStepWithBehaviourVar returns the latest step holding !name, or the null step.
func (a *Attempt) LastStepWithBehaviourVar(name string) *Step {
	for i := len(a.steps) - 1; i >= 0; i-- {
		if a.steps[i].HasBehaviourVar(name) {
			return a.steps[i]
		}
	}
	return nullStep
}

// LastQtVar returns the latest value of a question type variable.
func (a *Attempt) LastQtVar(name, fallback string) string {
	if v, ok := a.LastStepWithQtVar(name).QtVar(name); ok {
		return v
	}
	return fallback
}

// LastBehaviourVar returns the latest value of a behaviour variable.
func (a *Attempt) LastBehaviourVar(name, fallback string) string {
	if v, ok := a.LastStepWithBehaviourVar(name).BehaviourVar(name); ok {
		return v
	}
	return fallback
}

// FieldPrefix namespaces this attempt's fields in a usage-wide payload.
func (a *Attempt) FieldPrefix() string {
	usageID := ""
	if a.usage != nil {
		usageID = a.usage.ID()
	}
	return fmt.Sprintf("q%s:%d_", usageID, a.slot)
}

// FlagFieldName is the payload field that toggles the flag.
func (a *Attempt) FlagFieldName() string {
	return a.FieldPrefix() + ":flagged"
}

// SubmittedDataFrom extracts and cleans this attempt's fields from a payload.
// Question fields are read as prefix+name, behaviour fields as prefix+"-"+name.
func (a *Attempt) SubmittedDataFrom(payload map[string]string) (map[string]string, error) {
	if a.behaviour == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrNotStarted, a.slot)
	}
	prefix := a.FieldPrefix()
	out := map[string]string{}
	for name, t := range a.behaviour.ExpectedData() {
		raw, ok := payload[prefix+"-"+name]
		if !ok {
			continue
		}
		if v, ok := CleanParam(raw, t); ok {
			out[behaviourVarPrefix+name] = v
		}
	}
	for name, t := range a.behaviour.ExpectedQtData() {
		if strings.HasPrefix(name, cachedVarPrefix) {
			continue
		}
		raw, ok := payload[prefix+name]
		if !ok {
			continue
		}
		if v, ok := CleanParam(raw, t); ok {
			out[name] = v
		}
	}
	return out, nil
}

// ResumeData is the behaviour's view of where the attempt left off.
func (a *Attempt) ResumeData() (map[string]string, error) {
	if a.behaviour == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrNotStarted, a.slot)
	}
	return a.behaviour.ResumeData(), nil
}

// SetFlagged changes the flag and tells the observer when it actually changed.
func (a *Attempt) SetFlagged(flagged bool) {
	if a.flagged == flagged {
		return
	}
	a.flagged = flagged
	a.env.observer.NotifyAttemptModified(a)
}

// Render delegates to a renderer.
func (a *Attempt) Render(r Renderer, options DisplayOptions, number string) (any, error) {
	if !a.IsStarted() {
		return nil, fmt.Errorf("%w: slot %d", ErrNotStarted, a.slot)
	}
	return r.Render(a, options, number)
}

// applyAttemptState binds the question to the first step when it needs to.
func (a *Attempt) applyAttemptState(first *Step) error {
	a.question = a.definition
	applier, ok := a.definition.(AttemptStateApplier)
	if !ok {
		return nil
	}
	bound, err := applier.ApplyAttemptState(first)
	if err != nil {
		return err
	}
	a.question = bound
	return nil
}

func (a *Attempt) newStep(data map[string]string, opts []StepOption) *Step {
	all := make([]StepOption, 0, len(opts)+2)
	all = append(all, By(a.env.actor), withClock(a.env.now))
	all = append(all, opts...)
	return NewStep(data, all...)
}

func (a *Attempt) appendStep(step *Step) {
	sequence := len(a.steps)
	step.freeze(sequence)
	a.steps = append(a.steps, step)
	a.env.observer.NotifyStepAdded(step, a, sequence)
}
