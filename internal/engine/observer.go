package engine

// Observer is told about every mutation of a usage so it can be persisted later.
type Observer interface {
	NotifyModified()
	NotifyAttemptAdded(attempt *Attempt)
	NotifyAttemptModified(attempt *Attempt)
	NotifyAttemptRegraded(attempt *Attempt)
	NotifyStepAdded(step *Step, attempt *Attempt, sequence int)
}

// NullObserver ignores every notification.
type NullObserver struct{}

func (NullObserver) NotifyModified()                      {}
func (NullObserver) NotifyAttemptAdded(*Attempt)          {}
func (NullObserver) NotifyAttemptModified(*Attempt)       {}
func (NullObserver) NotifyAttemptRegraded(*Attempt)       {}
func (NullObserver) NotifyStepAdded(*Step, *Attempt, int) {}
