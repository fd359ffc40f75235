package behaviour

import "github.com/noah-isme/gema-question-engine/internal/engine"

// deferredFeedback saves responses while the attempt is open and grades
// only when it is finished.
type deferredFeedback struct {
	base
}

func (b *deferredFeedback) Name() string { return DeferredFeedback }

func (b *deferredFeedback) ExpectedData() map[string]engine.ParamType { return b.expectedData() }

func (b *deferredFeedback) ProcessAction(pending *engine.Step) (engine.Verdict, error) {
	switch {
	case engine.IsCommentAction(pending):
		return engine.ProcessComment(b.attempt, pending)
	case pending.HasBehaviourVar("finish"):
		return b.processGradedFinish(pending)
	default:
		return b.processSave(pending, engine.Todo)
	}
}

// manualGraded never grades automatically. Finishing hands the attempt to
// a teacher unless nothing was answered.
type manualGraded struct {
	base
}

func (b *manualGraded) Name() string { return ManualGraded }

func (b *manualGraded) ExpectedData() map[string]engine.ParamType { return b.expectedData() }

func (b *manualGraded) ProcessAction(pending *engine.Step) (engine.Verdict, error) {
	switch {
	case engine.IsCommentAction(pending):
		return engine.ProcessComment(b.attempt, pending)
	case pending.HasBehaviourVar("finish"):
		return b.processFinish(pending)
	default:
		return b.processSave(pending, engine.Todo)
	}
}

func (b *manualGraded) processFinish(pending *engine.Step) (engine.Verdict, error) {
	if b.attempt.State().IsFinished() {
		return engine.Discard, nil
	}
	state := engine.NeedsGrading
	if !b.q().IsCompleteResponse(b.attempt.LastQtData()) {
		state = engine.GaveUp
	}
	if err := pending.SetState(state); err != nil {
		return engine.Discard, err
	}
	return engine.Keep, nil
}
