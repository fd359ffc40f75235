package question

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-question-engine/internal/engine"
)

func gradedFraction(f float64) (float64, engine.State) {
	return f, engine.GradedStateForFraction(f)
}

// trueFalse takes answer "1" for true and "0" for false.
type trueFalse struct {
	common
	correct bool
}

func newTrueFalse(def Definition) (engine.Question, error) {
	if def.Options.Correct == nil {
		return nil, fmt.Errorf("%w: truefalse needs the correct option", ErrInvalidDefinition)
	}
	return &trueFalse{common: common{def: def}, correct: *def.Options.Correct}, nil
}

func (q *trueFalse) ExpectedData() map[string]engine.ParamType {
	return map[string]engine.ParamType{"answer": engine.ParamInt}
}

func (q *trueFalse) IsCompleteResponse(response map[string]string) bool {
	v, ok := response["answer"]
	return ok && (v == "0" || v == "1")
}

func (q *trueFalse) IsGradableResponse(response map[string]string) bool {
	return q.IsCompleteResponse(response)
}

func (q *trueFalse) GradeResponse(response map[string]string) (float64, engine.State) {
	if (response["answer"] == "1") == q.correct {
		return gradedFraction(1)
	}
	return gradedFraction(0)
}

func (q *trueFalse) SummariseResponse(response map[string]string) string {
	switch response["answer"] {
	case "1":
		return "True"
	case "0":
		return "False"
	default:
		return ""
	}
}

func (q *trueFalse) CorrectResponse() map[string]string {
	if q.correct {
		return map[string]string{"answer": "1"}
	}
	return map[string]string{"answer": "0"}
}

func (q *trueFalse) RightAnswerSummary() string {
	return q.SummariseResponse(q.CorrectResponse())
}

// shortAnswer matches the response against answer patterns in order.
// The first match wins; a close miss within the edit distance earns half.
type shortAnswer struct {
	common
}

func newShortAnswer(def Definition) (engine.Question, error) {
	if err := validateAnswers(def, true); err != nil {
		return nil, err
	}
	return &shortAnswer{common: common{def: def}}, nil
}

func (q *shortAnswer) IsCompleteResponse(response map[string]string) bool {
	return strings.TrimSpace(response["answer"]) != ""
}

func (q *shortAnswer) IsGradableResponse(response map[string]string) bool {
	return q.IsCompleteResponse(response)
}

func (q *shortAnswer) matchingAnswer(response string) (Answer, bool) {
	opts := q.def.Options
	for _, a := range opts.Answers {
		if wildcardMatch(a.Text, response, opts.CaseSensitive) {
			return a, true
		}
	}
	if opts.MaxEditDistance <= 0 {
		return Answer{}, false
	}
	norm := normalize(response)
	for _, a := range opts.Answers {
		if a.Fraction > 0 && !strings.Contains(a.Text, "*") && levenshtein(normalize(a.Text), norm) <= opts.MaxEditDistance {
			return Answer{Text: a.Text, Fraction: a.Fraction * 0.5, Feedback: a.Feedback}, true
		}
	}
	return Answer{}, false
}

func (q *shortAnswer) GradeResponse(response map[string]string) (float64, engine.State) {
	a, ok := q.matchingAnswer(response["answer"])
	if !ok {
		return gradedFraction(0)
	}
	return gradedFraction(math.Max(a.Fraction, 0))
}

func (q *shortAnswer) Feedback(response map[string]string) string {
	a, _ := q.matchingAnswer(response["answer"])
	return a.Feedback
}

func (q *shortAnswer) CorrectResponse() map[string]string {
	best, ok := bestAnswer(q.def.Options.Answers)
	if !ok {
		return nil
	}
	return map[string]string{"answer": best.Text}
}

func (q *shortAnswer) RightAnswerSummary() string {
	return q.CorrectResponse()["answer"]
}

// numerical accepts a number within an answer's tolerance. An answer of *
// matches any number.
type numerical struct {
	common
}

func newNumerical(def Definition) (engine.Question, error) {
	if err := validateAnswers(def, true); err != nil {
		return nil, err
	}
	for i, a := range def.Options.Answers {
		if a.Text == "*" {
			continue
		}
		if _, ok := parseFloatLoose(a.Text); !ok {
			return nil, fmt.Errorf("%w: answer %d %q is not a number", ErrInvalidDefinition, i, a.Text)
		}
		if a.Tolerance < 0 {
			return nil, fmt.Errorf("%w: answer %d tolerance must not be negative", ErrInvalidDefinition, i)
		}
	}
	return &numerical{common: common{def: def}}, nil
}

func (q *numerical) IsCompleteResponse(response map[string]string) bool {
	_, ok := parseFloatLoose(response["answer"])
	return ok
}

func (q *numerical) IsGradableResponse(response map[string]string) bool {
	return strings.TrimSpace(response["answer"]) != ""
}

func (q *numerical) GradeResponse(response map[string]string) (float64, engine.State) {
	a, ok := q.matchingAnswer(response["answer"])
	if !ok {
		return gradedFraction(0)
	}
	return gradedFraction(math.Max(a.Fraction, 0))
}

func (q *numerical) matchingAnswer(response string) (Answer, bool) {
	v, ok := parseFloatLoose(response)
	if !ok {
		return Answer{}, false
	}
	for _, a := range q.def.Options.Answers {
		if a.Text == "*" {
			return a, true
		}
		target, _ := parseFloatLoose(a.Text)
		if math.Abs(v-target) <= a.Tolerance {
			return a, true
		}
	}
	return Answer{}, false
}

func (q *numerical) Feedback(response map[string]string) string {
	a, _ := q.matchingAnswer(response["answer"])
	return a.Feedback
}

func (q *numerical) CorrectResponse() map[string]string {
	best, ok := bestAnswer(q.def.Options.Answers)
	if !ok || best.Text == "*" {
		return nil
	}
	return map[string]string{"answer": best.Text}
}

func (q *numerical) RightAnswerSummary() string {
	best, ok := bestAnswer(q.def.Options.Answers)
	if !ok || best.Text == "*" {
		return ""
	}
	if best.Tolerance > 0 {
		return fmt.Sprintf("%s ± %s", best.Text, strconv.FormatFloat(best.Tolerance, 'f', -1, 64))
	}
	return best.Text
}

const orderVar = "_order"

// multiChoice shows its choices in an order fixed on the first step.
// Single choice responses use answer=<position>, multiple choice ones
// use choice<position>=1 for every selected position.
type multiChoice struct {
	common
	shuffle func(n int) []int
	order   []int
}

func newMultiChoice(def Definition) (engine.Question, error) {
	if err := validateAnswers(def, true); err != nil {
		return nil, err
	}
	return &multiChoice{common: common{def: def}, shuffle: rand.Perm}, nil
}

func (q *multiChoice) single() bool { return q.def.Options.Single }

func (q *multiChoice) MinFraction() float64 {
	if q.single() {
		lowest := 0.0
		for _, a := range q.def.Options.Answers {
			lowest = math.Min(lowest, a.Fraction)
		}
		return lowest
	}
	sum := 0.0
	for _, a := range q.def.Options.Answers {
		if a.Fraction < 0 {
			sum += a.Fraction
		}
	}
	return math.Max(sum, -1)
}

func (q *multiChoice) InitFirstStep(step *engine.Step) error {
	if step.HasQtVar(orderVar) {
		return nil
	}
	n := len(q.def.Options.Answers)
	order := identityOrder(n)
	if q.def.Options.Shuffle {
		order = q.shuffle(n)
	}
	parts := make([]string, n)
	for i, idx := range order {
		parts[i] = strconv.Itoa(idx)
	}
	return step.SetQtVar(orderVar, strings.Join(parts, ","))
}

// ApplyAttemptState binds the choice order cached on the first step.
func (q *multiChoice) ApplyAttemptState(first *engine.Step) (engine.Question, error) {
	order, err := Order(first, len(q.def.Options.Answers))
	if err != nil {
		return nil, err
	}
	bound := *q
	bound.order = order
	return &bound, nil
}

// Order decodes the cached choice order of an attempt's first step.
func Order(step *engine.Step, n int) ([]int, error) {
	raw, ok := step.QtVar(orderVar)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidDefinition, orderVar)
	}
	parts := strings.Split(raw, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: %s %q does not cover %d choices", ErrInvalidDefinition, orderVar, raw, n)
	}
	seen := make([]bool, n)
	out := make([]int, 0, n)
	for _, p := range parts {
		idx, err := strconv.Atoi(p)
		if err != nil || idx < 0 || idx >= n || seen[idx] {
			return nil, fmt.Errorf("%w: bad %s %q", ErrInvalidDefinition, orderVar, raw)
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

func identityOrder(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// answerAt maps a display position to its answer.
func (q *multiChoice) answerAt(pos int) Answer {
	if q.order != nil {
		return q.def.Options.Answers[q.order[pos]]
	}
	return q.def.Options.Answers[pos]
}

func (q *multiChoice) choiceField(pos int) string { return "choice" + strconv.Itoa(pos) }

func (q *multiChoice) fields() []string {
	if q.single() {
		return []string{"answer"}
	}
	out := make([]string, len(q.def.Options.Answers))
	for i := range out {
		out[i] = q.choiceField(i)
	}
	return out
}

func (q *multiChoice) ExpectedData() map[string]engine.ParamType {
	out := map[string]engine.ParamType{}
	for _, f := range q.fields() {
		if q.single() {
			out[f] = engine.ParamInt
		} else {
			out[f] = engine.ParamBool
		}
	}
	return out
}

func (q *multiChoice) IsSameResponse(prev, next map[string]string) bool {
	if q.single() {
		return sameFields(prev, next, "answer")
	}
	for _, f := range q.fields() {
		if (prev[f] == "1") != (next[f] == "1") {
			return false
		}
	}
	return true
}

// selected returns the display positions picked by a response.
func (q *multiChoice) selected(response map[string]string) []int {
	n := len(q.def.Options.Answers)
	if q.single() {
		pos, err := strconv.Atoi(response["answer"])
		if err != nil || pos < 0 || pos >= n {
			return nil
		}
		return []int{pos}
	}
	var out []int
	for i := 0; i < n; i++ {
		if response[q.choiceField(i)] == "1" {
			out = append(out, i)
		}
	}
	return out
}

func (q *multiChoice) IsCompleteResponse(response map[string]string) bool {
	return len(q.selected(response)) > 0
}

func (q *multiChoice) IsGradableResponse(response map[string]string) bool {
	return q.IsCompleteResponse(response)
}

func (q *multiChoice) GradeResponse(response map[string]string) (float64, engine.State) {
	sum := 0.0
	for _, pos := range q.selected(response) {
		sum += q.answerAt(pos).Fraction
	}
	return gradedFraction(math.Min(1, math.Max(q.MinFraction(), sum)))
}

func (q *multiChoice) SummariseResponse(response map[string]string) string {
	picked := q.selected(response)
	texts := make([]string, 0, len(picked))
	for _, pos := range picked {
		texts = append(texts, plainText(q.answerAt(pos).Text))
	}
	return strings.Join(texts, "; ")
}

func (q *multiChoice) Feedback(response map[string]string) string {
	var parts []string
	for _, pos := range q.selected(response) {
		if fb := strings.TrimSpace(q.answerAt(pos).Feedback); fb != "" {
			parts = append(parts, fb)
		}
	}
	return strings.Join(parts, " ")
}

func (q *multiChoice) CorrectResponse() map[string]string {
	n := len(q.def.Options.Answers)
	if q.single() {
		best := 0
		for pos := 1; pos < n; pos++ {
			if q.answerAt(pos).Fraction > q.answerAt(best).Fraction {
				best = pos
			}
		}
		return map[string]string{"answer": strconv.Itoa(best)}
	}
	out := map[string]string{}
	for pos := 0; pos < n; pos++ {
		if q.answerAt(pos).Fraction > 0 {
			out[q.choiceField(pos)] = "1"
		}
	}
	return out
}

func (q *multiChoice) RightAnswerSummary() string {
	return q.SummariseResponse(q.CorrectResponse())
}

// essay is only ever graded by a teacher.
type essay struct {
	common
}

func newEssay(def Definition) (engine.Question, error) {
	return &essay{common: common{def: def}}, nil
}

func (q *essay) BehaviourFor(string) string { return "manualgraded" }

func (q *essay) ExpectedData() map[string]engine.ParamType {
	return map[string]engine.ParamType{"answer": engine.ParamCleanHTML}
}

func (q *essay) IsCompleteResponse(response map[string]string) bool {
	return plainText(response["answer"]) != ""
}

func (q *essay) IsGradableResponse(response map[string]string) bool {
	return q.IsCompleteResponse(response)
}

func (q *essay) GradeResponse(map[string]string) (float64, engine.State) {
	return 0, engine.NeedsGrading
}

func (q *essay) SummariseResponse(response map[string]string) string {
	return plainText(response["answer"])
}

func (q *essay) CorrectResponse() map[string]string { return nil }
func (q *essay) RightAnswerSummary() string         { return "" }

// description is text shown between questions. It carries no mark.
type description struct {
	common
}

func newDescription(def Definition) (engine.Question, error) {
	return &description{common: common{def: def}}, nil
}

func (q *description) DefaultMark() float64       { return 0 }
func (q *description) BehaviourFor(string) string { return "informationitem" }

func (q *description) ExpectedData() map[string]engine.ParamType {
	return map[string]engine.ParamType{}
}

func (q *description) IsCompleteResponse(map[string]string) bool                { return true }
func (q *description) IsGradableResponse(map[string]string) bool                { return false }
func (q *description) IsSameResponse(map[string]string, map[string]string) bool { return true }

func (q *description) GradeResponse(map[string]string) (float64, engine.State) {
	return 0, engine.Finished
}

func (q *description) SummariseResponse(map[string]string) string { return "" }
func (q *description) CorrectResponse() map[string]string         { return nil }
func (q *description) RightAnswerSummary() string                 { return "" }
