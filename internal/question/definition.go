// Package question implements the question types the engine can attempt.
package question

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/gema-question-engine/internal/engine"
)

var (
	// ErrUnknownQuestionType indicates a question type that is not installed.
	ErrUnknownQuestionType = errors.New("unknown question type")
	// ErrInvalidDefinition indicates a definition its type cannot be built from.
	ErrInvalidDefinition = errors.New("invalid question definition")
)

const (
	TypeTrueFalse   = "truefalse"
	TypeShortAnswer = "shortanswer"
	TypeNumerical   = "numerical"
	TypeMultiChoice = "multichoice"
	TypeEssay       = "essay"
	TypeDescription = "description"
)

// Answer is one gradable answer or choice of a question.
type Answer struct {
	Text      string  `json:"text"`
	Fraction  float64 `json:"fraction"`
	Tolerance float64 `json:"tolerance,omitempty"`
	Feedback  string  `json:"feedback,omitempty"`
}

// Options holds the type specific settings of a definition.
type Options struct {
	Answers         []Answer `json:"answers,omitempty"`
	Correct         *bool    `json:"correct,omitempty"`
	CaseSensitive   bool     `json:"case_sensitive,omitempty"`
	MaxEditDistance int      `json:"max_edit_distance,omitempty"`
	Single          bool     `json:"single,omitempty"`
	Shuffle         bool     `json:"shuffle,omitempty"`
}

// Definition is the stored form of a question.
type Definition struct {
	ID              int64
	Type            string
	Name            string
	Text            string
	GeneralFeedback string
	DefaultMark     float64
	Penalty         float64
	Options         Options
}

// Builder turns a definition into an engine question.
type Builder func(def Definition) (engine.Question, error)

// Registry maps question type names to builders. Unknown types fail hard.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with every built-in type installed.
func NewRegistry() *Registry {
	r := &Registry{builders: map[string]Builder{}}
	r.Register(TypeTrueFalse, newTrueFalse)
	r.Register(TypeShortAnswer, newShortAnswer)
	r.Register(TypeNumerical, newNumerical)
	r.Register(TypeMultiChoice, newMultiChoice)
	r.Register(TypeEssay, newEssay)
	r.Register(TypeDescription, newDescription)
	return r
}

// Register installs or replaces a builder.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Types lists installed type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for name := range r.builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build constructs the question for a definition.
func (r *Registry) Build(def Definition) (engine.Question, error) {
	r.mu.RLock()
	b, ok := r.builders[def.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuestionType, def.Type)
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.DefaultMark < 0 {
		return nil, fmt.Errorf("%w: default mark must not be negative", ErrInvalidDefinition)
	}
	if def.Penalty < 0 || def.Penalty > 1 {
		return nil, fmt.Errorf("%w: penalty must be within [0, 1]", ErrInvalidDefinition)
	}
	return b(def)
}

// common carries the parts every question type shares.
type common struct {
	def Definition
}

func (c common) ID() int64            { return c.def.ID }
func (c common) Type() string         { return c.def.Type }
func (c common) Name() string         { return c.def.Name }
func (c common) Text() string         { return c.def.Text }
func (c common) Penalty() float64     { return c.def.Penalty }
func (c common) MinFraction() float64 { return 0 }

func (c common) DefaultMark() float64 {
	if c.def.DefaultMark == 0 {
		return 1
	}
	return c.def.DefaultMark
}

func (c common) BehaviourFor(preferred string) string { return preferred }

func (c common) InitFirstStep(*engine.Step) error { return nil }

func (c common) QuestionSummary() string { return plainText(c.def.Text) }

// GeneralFeedback is shown to everyone once the attempt is finished.
func (c common) GeneralFeedback() string { return c.def.GeneralFeedback }

// Feedback is the feedback attached to the answer a response matched.
func (c common) Feedback(map[string]string) string { return "" }

func (c common) ExpectedData() map[string]engine.ParamType {
	return map[string]engine.ParamType{"answer": engine.ParamText}
}

func (c common) IsSameResponse(prev, next map[string]string) bool {
	return sameFields(prev, next, "answer")
}

func (c common) SummariseResponse(response map[string]string) string {
	return response["answer"]
}

func sameFields(prev, next map[string]string, names ...string) bool {
	for _, name := range names {
		a, aok := prev[name]
		b, bok := next[name]
		if aok != bok || a != b {
			return false
		}
	}
	return true
}

func validateAnswers(def Definition, atLeastOne bool) error {
	if atLeastOne && len(def.Options.Answers) == 0 {
		return fmt.Errorf("%w: %s needs at least one answer", ErrInvalidDefinition, def.Type)
	}
	for i, a := range def.Options.Answers {
		if a.Fraction > 1 || a.Fraction < -1 {
			return fmt.Errorf("%w: answer %d fraction %v outside [-1, 1]", ErrInvalidDefinition, i, a.Fraction)
		}
	}
	return nil
}

func bestAnswer(answers []Answer) (Answer, bool) {
	if len(answers) == 0 {
		return Answer{}, false
	}
	best := answers[0]
	for _, a := range answers[1:] {
		if a.Fraction > best.Fraction {
			best = a
		}
	}
	return best, true
}
