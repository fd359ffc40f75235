package behaviour

import (
	"math"
	"strconv"

	"github.com/noah-isme/gema-question-engine/internal/engine"
)

const (
	tryVar         = "_try"
	rawFractionVar = "_rawfraction"
)

// adaptive grades every submission. Each earlier try costs penalty, and
// the best adjusted fraction so far is kept.
type adaptive struct {
	base
	name    string
	penalty float64
}

func (b *adaptive) Name() string { return b.name }

func (b *adaptive) ExpectedData() map[string]engine.ParamType { return b.expectedData("submit") }

func (b *adaptive) ProcessAction(pending *engine.Step) (engine.Verdict, error) {
	switch {
	case engine.IsCommentAction(pending):
		return engine.ProcessComment(b.attempt, pending)
	case pending.HasBehaviourVar("finish"):
		return b.processFinish(pending)
	case pending.HasBehaviourVar("submit"):
		return b.processSubmit(pending)
	default:
		return b.processSave(pending, b.completeOrTodo(pending.ResponseData()))
	}
}

// processSave carries the best fraction so far onto saved responses.
func (b *adaptive) processSave(pending *engine.Step, state engine.State) (engine.Verdict, error) {
	verdict, err := b.base.processSave(pending, state)
	if err != nil || verdict == engine.Discard {
		return verdict, err
	}
	if err := pending.SetFraction(b.attempt.Fraction()); err != nil {
		return engine.Discard, err
	}
	return verdict, nil
}

func (b *adaptive) previousTry() (*engine.Step, int) {
	step := b.attempt.LastStepWithBehaviourVar(tryVar)
	v, ok := step.BehaviourVar(tryVar)
	if !ok {
		return step, 0
	}
	tries, err := strconv.Atoi(v)
	if err != nil {
		return step, 0
	}
	return step, tries
}

func (b *adaptive) bestFraction() float64 {
	if f := b.attempt.Fraction(); f != nil {
		return *f
	}
	return 0
}

func (b *adaptive) adjust(raw float64, tries int) float64 {
	return math.Max(b.bestFraction(), raw-b.penalty*float64(tries))
}

func (b *adaptive) processSubmit(pending *engine.Step) (engine.Verdict, error) {
	if b.attempt.State().IsFinished() {
		return engine.Discard, nil
	}
	response := pending.ResponseData()
	prev, tries := b.previousTry()
	if tries > 0 && b.q().IsSameResponse(prev.ResponseData(), response) {
		return engine.Discard, nil
	}
	if err := pending.SetNewResponseSummary(b.q().SummariseResponse(response)); err != nil {
		return engine.Discard, err
	}
	if !b.q().IsCompleteResponse(response) {
		if err := pending.SetFraction(b.attempt.Fraction()); err != nil {
			return engine.Discard, err
		}
		if err := pending.SetState(engine.Invalid); err != nil {
			return engine.Discard, err
		}
		return engine.Keep, nil
	}

	raw, _ := b.q().GradeResponse(response)
	fraction := b.adjust(raw, tries)
	if err := pending.SetFraction(&fraction); err != nil {
		return engine.Discard, err
	}
	state := engine.Todo
	if engine.GradedStateForFraction(raw) == engine.GradedRight {
		state = engine.Complete
	}
	if err := pending.SetState(state); err != nil {
		return engine.Discard, err
	}
	return engine.Keep, b.recordTry(pending, tries+1, raw)
}

func (b *adaptive) processFinish(pending *engine.Step) (engine.Verdict, error) {
	if b.attempt.State().IsFinished() {
		return engine.Discard, nil
	}
	response := b.attempt.LastQtData()
	prev, tries := b.previousTry()

	if tries > 0 && b.q().IsSameResponse(prev.ResponseData(), response) {
		raw, _ := prev.BehaviourVar(rawFractionVar)
		if err := pending.SetFraction(b.attempt.Fraction()); err != nil {
			return engine.Discard, err
		}
		if err := pending.SetState(engine.GradedStateForFraction(parseFraction(raw))); err != nil {
			return engine.Discard, err
		}
		return engine.Keep, nil
	}

	if !b.q().IsGradableResponse(response) {
		if err := pending.SetFraction(b.attempt.Fraction()); err != nil {
			return engine.Discard, err
		}
		if err := pending.SetState(engine.GaveUp); err != nil {
			return engine.Discard, err
		}
		return engine.Keep, nil
	}

	raw, _ := b.q().GradeResponse(response)
	fraction := b.adjust(raw, tries)
	if err := pending.SetFraction(&fraction); err != nil {
		return engine.Discard, err
	}
	if err := pending.SetState(engine.GradedStateForFraction(raw)); err != nil {
		return engine.Discard, err
	}
	return engine.Keep, b.recordTry(pending, tries+1, raw)
}

func (b *adaptive) recordTry(pending *engine.Step, try int, raw float64) error {
	if err := pending.SetBehaviourVar(tryVar, strconv.Itoa(try)); err != nil {
		return err
	}
	return pending.SetBehaviourVar(rawFractionVar, formatFraction(raw))
}
