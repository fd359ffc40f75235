package engine

import (
	"context"
	"fmt"
	"sort"
)

type addedStep struct {
	step     *Step
	attempt  *Attempt
	sequence int
}

// UnitOfWork records the mutations of one usage between loads and flushes.
// Changes to attempts added in the same unit are folded into the add.
type UnitOfWork struct {
	usage            *Usage
	modified         bool
	attemptsAdded    map[int]*Attempt
	attemptsModified map[int]*Attempt
	attemptsRegraded map[int]*Attempt
	stepsAdded       []addedStep
}

// NewUnitOfWork starts tracking a loaded or freshly saved usage.
func NewUnitOfWork(u *Usage) *UnitOfWork {
	return &UnitOfWork{
		usage:            u,
		attemptsAdded:    map[int]*Attempt{},
		attemptsModified: map[int]*Attempt{},
		attemptsRegraded: map[int]*Attempt{},
	}
}

func (w *UnitOfWork) NotifyModified() { w.modified = true }

func (w *UnitOfWork) NotifyAttemptAdded(a *Attempt) {
	w.attemptsAdded[a.slot] = a
}

func (w *UnitOfWork) NotifyAttemptModified(a *Attempt) {
	if _, ok := w.attemptsAdded[a.slot]; ok {
		return
	}
	if _, ok := w.attemptsRegraded[a.slot]; ok {
		w.attemptsRegraded[a.slot] = a
		return
	}
	w.attemptsModified[a.slot] = a
}

// NotifyAttemptRegraded replaces all pending work on the slot with a full rewrite.
func (w *UnitOfWork) NotifyAttemptRegraded(a *Attempt) {
	if _, ok := w.attemptsAdded[a.slot]; ok {
		w.attemptsAdded[a.slot] = a
		return
	}
	delete(w.attemptsModified, a.slot)
	w.dropSteps(a.slot)
	w.attemptsRegraded[a.slot] = a
}

func (w *UnitOfWork) NotifyStepAdded(step *Step, a *Attempt, sequence int) {
	if _, ok := w.attemptsAdded[a.slot]; ok {
		return
	}
	if _, ok := w.attemptsRegraded[a.slot]; ok {
		return
	}
	w.stepsAdded = append(w.stepsAdded, addedStep{step: step, attempt: a, sequence: sequence})
}

// HasChanges reports whether a flush would write anything.
func (w *UnitOfWork) HasChanges() bool {
	return w.modified || len(w.attemptsAdded) > 0 || len(w.attemptsModified) > 0 ||
		len(w.attemptsRegraded) > 0 || len(w.stepsAdded) > 0
}

// Counts summarises pending work for logging.
func (w *UnitOfWork) Counts() (steps, added, modified, regraded int) {
	return len(w.stepsAdded), len(w.attemptsAdded), len(w.attemptsModified), len(w.attemptsRegraded)
}

func (w *UnitOfWork) dropSteps(slot int) {
	kept := w.stepsAdded[:0]
	for _, s := range w.stepsAdded {
		if s.attempt.slot != slot {
			kept = append(kept, s)
		}
	}
	w.stepsAdded = kept
}

// save writes the recorded changes in dependency order: new steps of
// existing attempts, then attempts, then the usage row. Ids produced by
// the store are collected in ids and only applied once the caller commits.
func (w *UnitOfWork) save(ctx context.Context, store RecordStore, ids *idAssignments) error {
	usageID := w.usage.id

	for _, s := range w.stepsAdded {
		if err := insertStep(ctx, store, s.attempt.id, s.step, ids); err != nil {
			return err
		}
	}

	for _, slot := range sortedSlots(w.attemptsRegraded) {
		a := w.attemptsRegraded[slot]
		if err := store.DeleteSteps(ctx, a.id); err != nil {
			return fmt.Errorf("delete steps of slot %d: %w", slot, err)
		}
		if err := store.UpdateAttempt(ctx, attemptRecord(usageID, a)); err != nil {
			return fmt.Errorf("update regraded slot %d: %w", slot, err)
		}
		for _, step := range a.steps {
			if err := insertStep(ctx, store, a.id, step, ids); err != nil {
				return err
			}
		}
	}

	for _, slot := range sortedSlots(w.attemptsAdded) {
		if err := insertAttempt(ctx, store, usageID, w.attemptsAdded[slot], ids); err != nil {
			return err
		}
	}

	for _, slot := range sortedSlots(w.attemptsModified) {
		if err := store.UpdateAttempt(ctx, attemptRecord(usageID, w.attemptsModified[slot])); err != nil {
			return fmt.Errorf("update slot %d: %w", slot, err)
		}
	}

	if w.modified {
		if err := store.UpdateUsage(ctx, usageRecord(w.usage)); err != nil {
			return fmt.Errorf("update usage %d: %w", usageID, err)
		}
	}
	return nil
}

func sortedSlots(m map[int]*Attempt) []int {
	slots := make([]int, 0, len(m))
	for slot := range m {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}
