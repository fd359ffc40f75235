package engine

import (
	"errors"
	"fmt"
)

// ErrNoCommentedState is returned when a state has no manually commented counterpart.
var ErrNoCommentedState = errors.New("state has no commented counterpart")

// ErrUnknownState indicates a state name could not be parsed.
var ErrUnknownState = errors.New("unknown question state")

// fractionTolerance bounds the graded-state classification on both ends.
const fractionTolerance = 1e-7

// State is the lifecycle state attached to a question attempt step.
type State uint8

const (
	NotStarted State = iota
	Unprocessed
	Todo
	Invalid
	Complete
	NeedsGrading
	Finished
	GaveUp
	GradedWrong
	GradedPartial
	GradedRight
	ManuallyFinished
	ManuallyGaveUp
	ManuallyGradedWrong
	ManuallyGradedPartial
	ManuallyGradedRight
)

// Facets are the boolean classifications of a State.
type Facets struct {
	Active           bool
	Finished         bool
	Graded           bool
	Correct          bool
	PartiallyCorrect bool
	Incorrect        bool
	GaveUp           bool
	Commented        bool
}

type stateInfo struct {
	name   string
	facets Facets
}

var stateTable = [...]stateInfo{
	NotStarted:            {name: "notstarted"},
	Unprocessed:           {name: "unprocessed"},
	Todo:                  {name: "todo", facets: Facets{Active: true}},
	Invalid:               {name: "invalid", facets: Facets{Active: true}},
	Complete:              {name: "complete", facets: Facets{Active: true}},
	NeedsGrading:          {name: "needsgrading", facets: Facets{Finished: true}},
	Finished:              {name: "finished", facets: Facets{Finished: true}},
	GaveUp:                {name: "gaveup", facets: Facets{Finished: true, GaveUp: true}},
	GradedWrong:           {name: "gradedwrong", facets: Facets{Finished: true, Graded: true, Incorrect: true}},
	GradedPartial:         {name: "gradedpartial", facets: Facets{Finished: true, Graded: true, PartiallyCorrect: true}},
	GradedRight:           {name: "gradedright", facets: Facets{Finished: true, Graded: true, Correct: true}},
	ManuallyFinished:      {name: "manfinished", facets: Facets{Finished: true, Commented: true}},
	ManuallyGaveUp:        {name: "mangaveup", facets: Facets{Finished: true, GaveUp: true, Commented: true}},
	ManuallyGradedWrong:   {name: "mangrwrong", facets: Facets{Finished: true, Graded: true, Incorrect: true, Commented: true}},
	ManuallyGradedPartial: {name: "mangrpartial", facets: Facets{Finished: true, Graded: true, PartiallyCorrect: true, Commented: true}},
	ManuallyGradedRight:   {name: "mangrright", facets: Facets{Finished: true, Graded: true, Correct: true, Commented: true}},
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, len(stateTable))
	for i := range stateTable {
		out[i] = State(i)
	}
	return out
}

// Classify returns the facet combination of a state.
func Classify(s State) Facets {
	if !s.valid() {
		return Facets{}
	}
	return stateTable[s].facets
}

func (s State) valid() bool { return int(s) < len(stateTable) }

func (s State) String() string {
	if !s.valid() {
		return fmt.Sprintf("state(%d)", uint8(s))
	}
	return stateTable[s].name
}

func (s State) IsActive() bool           { return Classify(s).Active }
func (s State) IsFinished() bool         { return Classify(s).Finished }
func (s State) IsGraded() bool           { return Classify(s).Graded }
func (s State) IsCorrect() bool          { return Classify(s).Correct }
func (s State) IsPartiallyCorrect() bool { return Classify(s).PartiallyCorrect }
func (s State) IsIncorrect() bool        { return Classify(s).Incorrect }
func (s State) IsGaveUp() bool           { return Classify(s).GaveUp }
func (s State) IsCommented() bool        { return Classify(s).Commented }

// MarshalText stores states by name.
func (s State) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState resolves a persisted state name.
func ParseState(name string) (State, error) {
	for i, info := range stateTable {
		if info.name == name {
			return State(i), nil
		}
	}
	return NotStarted, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

// GradedStateForFraction maps an automatic grade to one of the graded states.
func GradedStateForFraction(fraction float64) State {
	switch {
	case fraction <= fractionTolerance:
		return GradedWrong
	case fraction >= 1-fractionTolerance:
		return GradedRight
	default:
		return GradedPartial
	}
}

// ManuallyGradedStateForFraction maps a manual grade to a manually graded state.
// A nil fraction means the attempt still needs grading.
func ManuallyGradedStateForFraction(fraction *float64) State {
	if fraction == nil {
		return NeedsGrading
	}
	switch GradedStateForFraction(*fraction) {
	case GradedWrong:
		return ManuallyGradedWrong
	case GradedRight:
		return ManuallyGradedRight
	default:
		return ManuallyGradedPartial
	}
}

// CorrespondingCommentedState returns the state an attempt moves to when a
// teacher comments on it, optionally with a new fraction.
func CorrespondingCommentedState(s State, fraction *float64) (State, error) {
	switch s {
	case Todo, Invalid, Complete, NeedsGrading:
		return ManuallyGradedStateForFraction(fraction), nil
	case Finished, ManuallyFinished:
		if fraction == nil {
			return ManuallyFinished, nil
		}
		return ManuallyGradedStateForFraction(fraction), nil
	case GaveUp, ManuallyGaveUp:
		if fraction == nil {
			return ManuallyGaveUp, nil
		}
		return ManuallyGradedStateForFraction(fraction), nil
	case GradedWrong, ManuallyGradedWrong:
		if fraction == nil {
			return ManuallyGradedWrong, nil
		}
		return ManuallyGradedStateForFraction(fraction), nil
	case GradedPartial, ManuallyGradedPartial:
		if fraction == nil {
			return ManuallyGradedPartial, nil
		}
		return ManuallyGradedStateForFraction(fraction), nil
	case GradedRight, ManuallyGradedRight:
		if fraction == nil {
			return ManuallyGradedRight, nil
		}
		return ManuallyGradedStateForFraction(fraction), nil
	default:
		return s, fmt.Errorf("%w: %s", ErrNoCommentedState, s)
	}
}
