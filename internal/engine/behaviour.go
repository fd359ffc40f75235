package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrMarkOutOfRange indicates a manual mark outside [minFraction, 1] of the max mark.
var ErrMarkOutOfRange = errors.New("mark out of range")

// ErrInvalidMark indicates a manual mark that is not a number.
var ErrInvalidMark = errors.New("invalid mark")

// Verdict is a behaviour's decision about a pending step.
type Verdict int

const (
	// Discard drops the pending step; the attempt is left untouched.
	Discard Verdict = iota
	// Keep appends the pending step to the attempt.
	Keep
)

func (v Verdict) String() string {
	if v == Keep {
		return "keep"
	}
	return "discard"
}

// Behaviour decides how submitted actions change an attempt.
//
// ProcessAction may change the pending step's state, fraction and cached
// variables before returning its verdict. It must not touch the attempt.
type Behaviour interface {
	Name() string
	InitFirstStep(step *Step) error
	MinFraction() float64
	ProcessAction(pending *Step) (Verdict, error)

	// ExpectedData lists behaviour variables (without the ! prefix) read from requests.
	ExpectedData() map[string]ParamType
	// ExpectedQtData lists question type variables read from requests.
	ExpectedQtData() map[string]ParamType

	ResumeData() map[string]string
	RightAnswerSummary() string
	QuestionSummary() string
}

// BehaviourFactory builds the behaviour instance owned by one attempt.
type BehaviourFactory func(attempt *Attempt) Behaviour

// BehaviourRegistry maps behaviour names to factories. Safe for concurrent use.
type BehaviourRegistry struct {
	mu        sync.RWMutex
	factories map[string]BehaviourFactory
}

// NewBehaviourRegistry returns an empty registry.
func NewBehaviourRegistry() *BehaviourRegistry {
	return &BehaviourRegistry{factories: map[string]BehaviourFactory{}}
}

var defaultBehaviours = NewBehaviourRegistry()

// DefaultBehaviours is the process-wide registry. It is empty until populated.
func DefaultBehaviours() *BehaviourRegistry {
	return defaultBehaviours
}

// Register installs or replaces a factory.
func (r *BehaviourRegistry) Register(name string, factory BehaviourFactory) {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Has reports whether a behaviour is installed.
func (r *BehaviourRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names lists installed behaviours in sorted order.
func (r *BehaviourRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Make builds a behaviour for the attempt. Unknown names resolve to the
// missing behaviour so that stored attempts stay inspectable.
func (r *BehaviourRegistry) Make(name string, attempt *Attempt) Behaviour {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return NewMissingBehaviour(name, attempt)
	}
	return factory(attempt)
}

// CommentExpectedData is the manual grading data every behaviour accepts.
// It is not part of any ExpectedData, so action payloads cannot carry it.
func CommentExpectedData() map[string]ParamType {
	return map[string]ParamType{
		"comment": ParamCleanHTML,
		"mark":    ParamText,
		"maxmark": ParamNumber,
	}
}

// IsCommentAction reports whether the pending step carries a manual comment.
func IsCommentAction(pending *Step) bool {
	return pending.HasBehaviourVar("comment")
}

// ProcessComment applies a manual comment, with an optional mark, to the
// pending step. Without a mark the current fraction is carried forward.
func ProcessComment(attempt *Attempt, pending *Step) (Verdict, error) {
	current := attempt.State()
	fraction := attempt.Fraction()

	if markText, ok := pending.BehaviourVar("mark"); ok {
		markText = strings.TrimSpace(markText)
		if markText == "" {
			fraction = nil
		} else {
			mark, err := strconv.ParseFloat(markText, 64)
			if err != nil {
				return Discard, fmt.Errorf("%w: %q", ErrInvalidMark, markText)
			}
			maxMark := attempt.MaxMark()
			if maxText, ok := pending.BehaviourVar("maxmark"); ok {
				parsed, err := strconv.ParseFloat(strings.TrimSpace(maxText), 64)
				if err != nil {
					return Discard, fmt.Errorf("%w: max mark %q", ErrInvalidMark, maxText)
				}
				maxMark = parsed
			}
			if maxMark <= 0 {
				return Discard, fmt.Errorf("%w: max mark %v", ErrInvalidMark, maxMark)
			}
			f := mark / maxMark
			minFraction, err := attempt.MinFraction()
			if err != nil {
				return Discard, err
			}
			if f > 1+fractionTolerance || f < minFraction-fractionTolerance {
				return Discard, fmt.Errorf("%w: slot %d fraction %v", ErrMarkOutOfRange, attempt.Slot(), f)
			}
			fraction = &f
		}
	}

	state, err := CorrespondingCommentedState(current, fraction)
	if err != nil {
		return Discard, err
	}
	if err := pending.SetFraction(fraction); err != nil {
		return Discard, err
	}
	if err := pending.SetState(state); err != nil {
		return Discard, err
	}
	return Keep, nil
}
