package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDisplayOption indicates a display option value that cannot be parsed.
var ErrInvalidDisplayOption = errors.New("invalid display option")

// Visibility controls whether a part of an attempt is shown.
type Visibility bool

const (
	Hidden  Visibility = false
	Visible Visibility = true
)

// MarkDisplay controls how marks are shown.
type MarkDisplay int

const (
	MarksHidden MarkDisplay = iota
	MarksMaxOnly
	MarksMarkAndMax
)

var markDisplayNames = map[MarkDisplay]string{
	MarksHidden:     "none",
	MarksMaxOnly:    "max-only",
	MarksMarkAndMax: "mark-and-max",
}

func (m MarkDisplay) String() string { return markDisplayNames[m] }

// ParseMarkDisplay reads none, max-only or mark-and-max.
func ParseMarkDisplay(s string) (MarkDisplay, error) {
	for v, name := range markDisplayNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return v, nil
		}
	}
	return MarksHidden, fmt.Errorf("%w: marks %q", ErrInvalidDisplayOption, s)
}

// FlagDisplay controls how the attempt flag is shown.
type FlagDisplay int

const (
	FlagsHidden FlagDisplay = iota
	FlagsVisible
	FlagsEditable
)

var flagDisplayNames = map[FlagDisplay]string{
	FlagsHidden:   "hidden",
	FlagsVisible:  "visible",
	FlagsEditable: "editable",
}

func (f FlagDisplay) String() string { return flagDisplayNames[f] }

// ParseFlagDisplay reads hidden, visible or editable.
func ParseFlagDisplay(s string) (FlagDisplay, error) {
	for v, name := range flagDisplayNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return v, nil
		}
	}
	return FlagsHidden, fmt.Errorf("%w: flags %q", ErrInvalidDisplayOption, s)
}

// DisplayOptions configures what a renderer may reveal about an attempt.
// A non-empty ManualCommentURL is where the comment can be edited.
type DisplayOptions struct {
	ReadOnly         bool
	Feedback         Visibility
	GeneralFeedback  Visibility
	RightAnswer      Visibility
	Correctness      Visibility
	Marks            MarkDisplay
	MarkDecimals     int
	ManualComment    Visibility
	ManualCommentURL string
	History          Visibility
	Flags            FlagDisplay
}

// DefaultDisplayOptions shows everything a student normally sees after review.
func DefaultDisplayOptions() DisplayOptions {
	return DisplayOptions{
		Feedback:        Visible,
		GeneralFeedback: Visible,
		RightAnswer:     Visible,
		Correctness:     Visible,
		Marks:           MarksMarkAndMax,
		MarkDecimals:    2,
		ManualComment:   Visible,
		History:         Hidden,
		Flags:           FlagsVisible,
	}
}

// Renderer turns an attempt into a displayable fragment.
type Renderer interface {
	Render(attempt *Attempt, options DisplayOptions, number string) (any, error)
}
