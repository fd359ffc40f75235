package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrReadOnlyStep is returned by every mutator of a step that may no longer change.
var ErrReadOnlyStep = errors.New("step is read-only")

// ErrInvalidVarName indicates a cached variable name without the leading underscore.
var ErrInvalidVarName = errors.New("only cached variables starting with _ may be set")

const (
	behaviourVarPrefix = "!"
	cachedVarPrefix    = "_"
)

// StepOption customises the timestamp and actor of a new step.
type StepOption func(*stepOptions)

type stepOptions struct {
	at    time.Time
	actor string
	now   func() time.Time
}

// At sets the creation time of the step.
func At(t time.Time) StepOption {
	return func(o *stepOptions) { o.at = t }
}

// By sets the acting user of the step.
func By(actor string) StepOption {
	return func(o *stepOptions) { o.actor = actor }
}

func withClock(now func() time.Time) StepOption {
	return func(o *stepOptions) { o.now = now }
}

// Step is one recorded transition of a question attempt.
type Step struct {
	id          int64
	sequence    int
	state       State
	fraction    *float64
	timeCreated time.Time
	actor       string
	data        map[string]string
	readOnly    bool

	newResponseSummary *string
}

// NewStep builds a writable step from submitted data. Without options the
// step is stamped with the current time and no actor.
func NewStep(data map[string]string, opts ...StepOption) *Step {
	o := stepOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	at := o.at
	if at.IsZero() {
		at = o.now()
	}

	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}

	return &Step{
		state:       Unprocessed,
		timeCreated: at,
		actor:       o.actor,
		data:        copied,
	}
}

// LoadedStep rebuilds a read-only step from storage.
func LoadedStep(id int64, sequence int, state State, fraction *float64, at time.Time, actor string, data map[string]string) *Step {
	s := NewStep(data, At(at), By(actor))
	s.id = id
	s.sequence = sequence
	s.state = state
	s.fraction = copyFraction(fraction)
	s.readOnly = true
	return s
}

var nullStep = &Step{state: NotStarted, data: map[string]string{}, readOnly: true}

func (s *Step) ID() int64              { return s.id }
func (s *Step) Sequence() int          { return s.sequence }
func (s *Step) State() State           { return s.state }
func (s *Step) TimeCreated() time.Time { return s.timeCreated }
func (s *Step) Actor() string          { return s.actor }
func (s *Step) IsReadOnly() bool       { return s.readOnly }

// Fraction returns the step fraction, nil when ungraded.
func (s *Step) Fraction() *float64 { return copyFraction(s.fraction) }

func (s *Step) setID(id int64) { s.id = id }

func (s *Step) freeze(sequence int) {
	s.sequence = sequence
	s.readOnly = true
}

// SetState changes the state of a pending step.
func (s *Step) SetState(state State) error {
	if s.readOnly {
		return ErrReadOnlyStep
	}
	s.state = state
	return nil
}

// SetFraction changes the fraction of a pending step. Nil clears it.
func (s *Step) SetFraction(fraction *float64) error {
	if s.readOnly {
		return ErrReadOnlyStep
	}
	s.fraction = copyFraction(fraction)
	return nil
}

// SetNewResponseSummary records the response summary the attempt should
// cache once this step is kept.
func (s *Step) SetNewResponseSummary(summary string) error {
	if s.readOnly {
		return ErrReadOnlyStep
	}
	s.newResponseSummary = &summary
	return nil
}

// HasQtVar reports whether a question type variable is present.
func (s *Step) HasQtVar(name string) bool {
	_, ok := s.data[name]
	return ok
}

// QtVar reads a question type variable.
func (s *Step) QtVar(name string) (string, bool) {
	v, ok := s.data[name]
	return v, ok
}

// SetQtVar stores a cached question type variable.
func (s *Step) SetQtVar(name, value string) error {
	if s.readOnly {
		return ErrReadOnlyStep
	}
	if !strings.HasPrefix(name, cachedVarPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidVarName, name)
	}
	s.data[name] = value
	return nil
}

// HasBehaviourVar reports whether a behaviour variable is present.
func (s *Step) HasBehaviourVar(name string) bool {
	_, ok := s.data[behaviourVarPrefix+name]
	return ok
}

// BehaviourVar reads a behaviour variable. The name excludes the ! prefix.
func (s *Step) BehaviourVar(name string) (string, bool) {
	v, ok := s.data[behaviourVarPrefix+name]
	return v, ok
}

// SetBehaviourVar stores a cached behaviour variable.
func (s *Step) SetBehaviourVar(name, value string) error {
	if s.readOnly {
		return ErrReadOnlyStep
	}
	if !strings.HasPrefix(name, cachedVarPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidVarName, name)
	}
	s.data[behaviourVarPrefix+name] = value
	return nil
}

// QtData returns every question type variable, cached ones included.
func (s *Step) QtData() map[string]string {
	out := map[string]string{}
	for k, v := range s.data {
		if !strings.HasPrefix(k, behaviourVarPrefix) {
			out[k] = v
		}
	}
	return out
}

// ResponseData returns the question type variables that were submitted.
func (s *Step) ResponseData() map[string]string {
	out := map[string]string{}
	for k, v := range s.data {
		if !strings.HasPrefix(k, behaviourVarPrefix) && !strings.HasPrefix(k, cachedVarPrefix) {
			out[k] = v
		}
	}
	return out
}

// HasResponseData reports whether the step carries any submitted question type data.
func (s *Step) HasResponseData() bool {
	for k := range s.data {
		if !strings.HasPrefix(k, behaviourVarPrefix) && !strings.HasPrefix(k, cachedVarPrefix) {
			return true
		}
	}
	return false
}

// BehaviourData returns behaviour variables with the ! prefix stripped.
func (s *Step) BehaviourData() map[string]string {
	out := map[string]string{}
	for k, v := range s.data {
		if strings.HasPrefix(k, behaviourVarPrefix) {
			out[strings.TrimPrefix(k, behaviourVarPrefix)] = v
		}
	}
	return out
}

// AllData returns a copy of every variable on the step.
func (s *Step) AllData() map[string]string {
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// SubmittedData returns the originally submitted variables, dropping every
// cached _name and !_name entry. Regrades replay this subset.
func (s *Step) SubmittedData() map[string]string {
	out := map[string]string{}
	for k, v := range s.data {
		if isCachedName(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// VarNames lists the step variable names in sorted order.
func (s *Step) VarNames() []string {
	names := make([]string, 0, len(s.data))
	for k := range s.data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func isCachedName(name string) bool {
	return strings.HasPrefix(name, cachedVarPrefix) ||
		strings.HasPrefix(name, behaviourVarPrefix+cachedVarPrefix)
}

func copyFraction(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
