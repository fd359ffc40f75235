package behaviour

import "github.com/noah-isme/gema-question-engine/internal/engine"

// immediateFeedback grades the first complete submission and finishes the attempt.
type immediateFeedback struct {
	base
}

func (b *immediateFeedback) Name() string { return ImmediateFeedback }

func (b *immediateFeedback) ExpectedData() map[string]engine.ParamType {
	return b.expectedData("submit")
}

func (b *immediateFeedback) ProcessAction(pending *engine.Step) (engine.Verdict, error) {
	switch {
	case engine.IsCommentAction(pending):
		return engine.ProcessComment(b.attempt, pending)
	case pending.HasBehaviourVar("finish"):
		return b.processGradedFinish(pending)
	case pending.HasBehaviourVar("submit"):
		return b.processSubmit(pending)
	default:
		return b.processSave(pending, b.completeOrTodo(pending.ResponseData()))
	}
}

func (b *immediateFeedback) processSubmit(pending *engine.Step) (engine.Verdict, error) {
	if b.attempt.State().IsFinished() {
		return engine.Discard, nil
	}
	response := pending.ResponseData()
	if err := pending.SetNewResponseSummary(b.q().SummariseResponse(response)); err != nil {
		return engine.Discard, err
	}
	if !b.q().IsCompleteResponse(response) {
		if err := pending.SetState(engine.Invalid); err != nil {
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

// informationItem has nothing to answer. Seeing or finishing it marks it finished.
type informationItem struct {
	base
}

func (b *informationItem) Name() string { return InformationItem }

func (b *informationItem) MinFraction() float64 { return 0 }

func (b *informationItem) ExpectedData() map[string]engine.ParamType { return b.expectedData("seen") }

func (b *informationItem) ExpectedQtData() map[string]engine.ParamType { return nil }

func (b *informationItem) RightAnswerSummary() string { return "" }

func (b *informationItem) ProcessAction(pending *engine.Step) (engine.Verdict, error) {
	switch {
	case engine.IsCommentAction(pending):
		return engine.ProcessComment(b.attempt, pending)
	case pending.HasBehaviourVar("finish"), pending.HasBehaviourVar("seen"):
		if b.attempt.State().IsFinished() {
			return engine.Discard, nil
		}
		if err := pending.SetState(engine.Finished); err != nil {
			return engine.Discard, err
		}
		return engine.Keep, nil
	default:
		return engine.Discard, nil
	}
}
