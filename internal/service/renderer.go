package service

import (
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-question-engine/internal/dto"
	"github.com/noah-isme/gema-question-engine/internal/engine"
)

type feedbackProvider interface {
	Feedback(response map[string]string) string
}

type generalFeedbackProvider interface {
	GeneralFeedback() string
}

// SummaryRenderer renders attempts as dto.AttemptView values.
type SummaryRenderer struct{}

// Render implements engine.Renderer.
func (SummaryRenderer) Render(a *engine.Attempt, options engine.DisplayOptions, number string) (any, error) {
	return renderAttempt(a, options, number), nil
}

func renderAttempt(a *engine.Attempt, options engine.DisplayOptions, number string) dto.AttemptView {
	q := a.Question()
	state := a.State()
	facets := engine.Classify(state)
	readOnly := options.ReadOnly || facets.Finished

	view := dto.AttemptView{
		Slot:            a.Slot(),
		Number:          number,
		QuestionID:      q.ID(),
		QuestionType:    q.Type(),
		QuestionName:    q.Name(),
		QuestionText:    q.Text(),
		Behaviour:       a.BehaviourName(),
		State:           state.String(),
		Status:          statusText(state),
		ReadOnly:        readOnly,
		FieldPrefix:     a.FieldPrefix(),
		Response:        visibleResponse(a.LastQtData()),
		ResponseSummary: a.ResponseSummary(),
	}

	if !readOnly && a.Behaviour() != nil {
		view.ExpectedFields = expectedFields(a)
	}

	decimals := options.MarkDecimals
	if decimals < 0 {
		decimals = 0
	}
	switch options.Marks {
	case engine.MarksMarkAndMax:
		if mark := a.Mark(); mark != nil {
			formatted := strconv.FormatFloat(*mark, 'f', decimals, 64)
			view.Mark = &formatted
		}
		fallthrough
	case engine.MarksMaxOnly:
		formatted := strconv.FormatFloat(a.MaxMark(), 'f', decimals, 64)
		view.MaxMark = &formatted
	}

	if options.Correctness == engine.Visible && facets.Graded {
		view.Correctness = correctness(facets)
	}

	if options.Feedback == engine.Visible && a.Fraction() != nil {
		if provider, ok := q.(feedbackProvider); ok {
			view.Feedback = provider.Feedback(a.LastQtData())
		}
	}
	if options.GeneralFeedback == engine.Visible && facets.Finished {
		if provider, ok := q.(generalFeedbackProvider); ok {
			view.GeneralFeedback = provider.GeneralFeedback()
		}
	}
	if options.RightAnswer == engine.Visible && facets.Finished {
		view.RightAnswer = a.RightAnswerSummary()
	}

	if options.ManualComment == engine.Visible {
		view.ManualComment = a.LastBehaviourVar("comment", "")
		view.CommentURL = options.ManualCommentURL
	}

	switch options.Flags {
	case engine.FlagsVisible, engine.FlagsEditable:
		flagged := a.IsFlagged()
		view.Flagged = &flagged
		view.FlagEditable = options.Flags == engine.FlagsEditable && !options.ReadOnly
	}

	if options.History == engine.Visible {
		view.History = history(a)
	}

	return view
}

func statusText(state engine.State) string {
	facets := engine.Classify(state)
	switch {
	case state == engine.NotStarted:
		return "Not yet started"
	case state == engine.Todo:
		return "Not complete"
	case state == engine.Invalid:
		return "Incomplete answer"
	case state == engine.Complete:
		return "Answer saved"
	case state == engine.NeedsGrading:
		return "Requires grading"
	case facets.GaveUp:
		return "Not answered"
	case facets.Correct:
		return "Correct"
	case facets.PartiallyCorrect:
		return "Partially correct"
	case facets.Incorrect:
		return "Incorrect"
	case facets.Finished:
		return "Finished"
	default:
		return state.String()
	}
}

func correctness(facets engine.Facets) string {
	switch {
	case facets.Correct:
		return "correct"
	case facets.PartiallyCorrect:
		return "partiallycorrect"
	case facets.Incorrect:
		return "incorrect"
	default:
		return ""
	}
}

func visibleResponse(data map[string]string) map[string]string {
	out := make(map[string]string, len(data))
	for name, value := range data {
		if strings.HasPrefix(name, "_") {
			continue
		}
		out[name] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func expectedFields(a *engine.Attempt) []string {
	prefix := a.FieldPrefix()
	b := a.Behaviour()
	fields := make([]string, 0)
	for name := range b.ExpectedQtData() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		fields = append(fields, prefix+name)
	}
	for name := range b.ExpectedData() {
		fields = append(fields, prefix+"-"+name)
	}
	sort.Strings(fields)
	return fields
}

func history(a *engine.Attempt) []dto.StepView {
	steps := a.Steps()
	views := make([]dto.StepView, 0, len(steps))
	for _, step := range steps {
		view := dto.StepView{
			Sequence:    step.Sequence(),
			State:       step.State().String(),
			Actor:       step.Actor(),
			TimeCreated: step.TimeCreated(),
		}
		if fraction := step.Fraction(); fraction != nil {
			mark := *fraction * a.MaxMark()
			view.Mark = &mark
		}
		if data := step.SubmittedData(); len(data) > 0 {
			view.Data = data
		}
		views = append(views, view)
	}
	return views
}
