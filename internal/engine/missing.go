package engine

// MissingBehaviour stands in for a behaviour that is no longer installed.
// It keeps the stored name so the attempt can be saved back unchanged.
type MissingBehaviour struct {
	name    string
	attempt *Attempt
}

// NewMissingBehaviour wraps an unresolvable behaviour name.
func NewMissingBehaviour(name string, attempt *Attempt) *MissingBehaviour {
	return &MissingBehaviour{name: name, attempt: attempt}
}

func (b *MissingBehaviour) Name() string { return b.name }

func (b *MissingBehaviour) InitFirstStep(*Step) error { return nil }

func (b *MissingBehaviour) MinFraction() float64 {
	if b.attempt != nil && b.attempt.question != nil {
		return b.attempt.question.MinFraction()
	}
	return 0
}

// ProcessAction accepts comments and finish. Everything else is discarded.
func (b *MissingBehaviour) ProcessAction(pending *Step) (Verdict, error) {
	switch {
	case IsCommentAction(pending):
		return ProcessComment(b.attempt, pending)
	case pending.HasBehaviourVar("finish"):
		if b.attempt.State().IsFinished() {
			return Discard, nil
		}
		if err := pending.SetState(NeedsGrading); err != nil {
			return Discard, err
		}
		return Keep, nil
	default:
		return Discard, nil
	}
}

func (b *MissingBehaviour) ExpectedData() map[string]ParamType {
	return map[string]ParamType{"finish": ParamBool}
}

func (b *MissingBehaviour) ExpectedQtData() map[string]ParamType { return nil }

func (b *MissingBehaviour) ResumeData() map[string]string {
	return b.attempt.firstStep().AllData()
}

func (b *MissingBehaviour) RightAnswerSummary() string { return "" }

func (b *MissingBehaviour) QuestionSummary() string {
	if b.attempt.question == nil {
		return ""
	}
	return b.attempt.question.QuestionSummary()
}
