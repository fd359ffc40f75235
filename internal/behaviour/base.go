// Package behaviour holds the interaction models that decide how submitted
// actions move a question attempt through its states.
package behaviour

import (
	"math"
	"strconv"

	"github.com/noah-isme/gema-question-engine/internal/engine"
)

const (
	DeferredFeedback  = "deferredfeedback"
	ManualGraded      = "manualgraded"
	Adaptive          = "adaptive"
	AdaptiveNoPenalty = "adaptivenopenalty"
	ImmediateFeedback = "immediatefeedback"
	InformationItem   = "informationitem"
)

// Register installs every behaviour of this package into r.
func Register(r *engine.BehaviourRegistry) {
	r.Register(DeferredFeedback, func(a *engine.Attempt) engine.Behaviour { return &deferredFeedback{base: newBase(a)} })
	r.Register(ManualGraded, func(a *engine.Attempt) engine.Behaviour { return &manualGraded{base: newBase(a)} })
	r.Register(Adaptive, func(a *engine.Attempt) engine.Behaviour {
		return &adaptive{base: newBase(a), name: Adaptive, penalty: a.Question().Penalty()}
	})
	r.Register(AdaptiveNoPenalty, func(a *engine.Attempt) engine.Behaviour {
		return &adaptive{base: newBase(a), name: AdaptiveNoPenalty}
	})
	r.Register(ImmediateFeedback, func(a *engine.Attempt) engine.Behaviour { return &immediateFeedback{base: newBase(a)} })
	r.Register(InformationItem, func(a *engine.Attempt) engine.Behaviour { return &informationItem{base: newBase(a)} })
}

type base struct {
	attempt *engine.Attempt
}

func newBase(a *engine.Attempt) base {
	return base{attempt: a}
}

// q is the attempt's question, bound to its first step once started.
func (b base) q() engine.Question { return b.attempt.Question() }

func (b base) MinFraction() float64 { return b.q().MinFraction() }

func (b base) InitFirstStep(step *engine.Step) error {
	if err := b.q().InitFirstStep(step); err != nil {
		return err
	}
	if step.HasResponseData() {
		return step.SetNewResponseSummary(b.q().SummariseResponse(step.ResponseData()))
	}
	return nil
}

func (b base) ExpectedQtData() map[string]engine.ParamType { return b.q().ExpectedData() }

func (b base) ResumeData() map[string]string {
	data := map[string]string{}
	if first, err := b.attempt.Step(0); err == nil {
		data = first.AllData()
	}
	for k, v := range b.attempt.LastQtData() {
		data[k] = v
	}
	return data
}

func (b base) RightAnswerSummary() string { return b.q().RightAnswerSummary() }
func (b base) QuestionSummary() string    { return b.q().QuestionSummary() }

// expectedData lists the behaviour fields read from action payloads. Manual
// grading fields are absent: they only enter through Attempt.ManualGrade.
func (b base) expectedData(extra ...string) map[string]engine.ParamType {
	out := map[string]engine.ParamType{"finish": engine.ParamBool}
	for _, name := range extra {
		out[name] = engine.ParamBool
	}
	return out
}

// processSave keeps a changed response in the given state. Saves after
// finishing or of an unchanged response are discarded.
func (b base) processSave(pending *engine.Step, state engine.State) (engine.Verdict, error) {
	if b.attempt.State().IsFinished() {
		return engine.Discard, nil
	}
	response := pending.ResponseData()
	if b.q().IsSameResponse(b.attempt.LastQtData(), response) {
		return engine.Discard, nil
	}
	if err := pending.SetState(state); err != nil {
		return engine.Discard, err
	}
	if err := pending.SetNewResponseSummary(b.q().SummariseResponse(response)); err != nil {
		return engine.Discard, err
	}
	return engine.Keep, nil
}

// completeOrTodo is the active state for a response.
func (b base) completeOrTodo(response map[string]string) engine.State {
	if b.q().IsCompleteResponse(response) {
		return engine.Complete
	}
	return engine.Todo
}

// processGradedFinish grades the latest response, or gives up when there
// is nothing gradable.
func (b base) processGradedFinish(pending *engine.Step) (engine.Verdict, error) {
	if b.attempt.State().IsFinished() {
		return engine.Discard, nil
	}
	response := b.attempt.LastQtData()
	if !b.q().IsGradableResponse(response) {
		if err := pending.SetState(engine.GaveUp); err != nil {
			return engine.Discard, err
		}
		return engine.Keep, nil
	}
	fraction, state := b.q().GradeResponse(response)
	if err := pending.SetFraction(&fraction); err != nil {
		return engine.Discard, err
	}
	if err := pending.SetState(state); err != nil {
		return engine.Discard, err
	}
	return engine.Keep, nil
}

func parseFraction(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0
	}
	return f
}

func formatFraction(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
