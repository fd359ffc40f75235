package engine

import "time"

// Option configures a Usage or a standalone Attempt.
type Option func(*settings)

type settings struct {
	behaviours *BehaviourRegistry
	observer   Observer
	actor      string
	now        func() time.Time
	preferred  string
}

func newSettings(opts []Option) *settings {
	s := &settings{
		behaviours: DefaultBehaviours(),
		observer:   NullObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithBehaviours selects the registry behaviours are resolved from.
func WithBehaviours(r *BehaviourRegistry) Option {
	return func(s *settings) {
		if r != nil {
			s.behaviours = r
		}
	}
}

// WithObserver installs the observer notified about mutations.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithActor sets the default actor recorded on new steps.
func WithActor(actor string) Option {
	return func(s *settings) { s.actor = actor }
}

// WithClock overrides the time source for new steps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPreferredBehaviour sets the behaviour used when a question does not force one.
func WithPreferredBehaviour(name string) Option {
	return func(s *settings) { s.preferred = name }
}
