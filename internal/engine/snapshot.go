package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// SnapshotVersion is the only snapshot layout this package reads and writes.
const SnapshotVersion = 1

// ErrSnapshotVersion indicates a snapshot written in an unsupported layout.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot is the versioned serialised form of a whole usage graph.
type Snapshot struct {
	Version  int               `json:"version"`
	Usage    UsageRecord       `json:"usage"`
	Attempts []AttemptSnapshot `json:"attempts"`
}

// AttemptSnapshot is one attempt with its steps.
type AttemptSnapshot struct {
	Attempt AttemptRecord  `json:"attempt"`
	Steps   []StepSnapshot `json:"steps"`
}

// StepSnapshot is one step with its variables.
type StepSnapshot struct {
	Step StepRecord        `json:"step"`
	Data map[string]string `json:"data"`
}

// TakeSnapshot captures the current state of a usage.
func TakeSnapshot(u *Usage) Snapshot {
	s := Snapshot{Version: SnapshotVersion, Usage: usageRecord(u), Attempts: []AttemptSnapshot{}}
	for _, slot := range u.Slots() {
		a := u.attempts[slot]
		as := AttemptSnapshot{Attempt: attemptRecord(u.id, a), Steps: make([]StepSnapshot, 0, len(a.steps))}
		for _, step := range a.steps {
			as.Steps = append(as.Steps, StepSnapshot{Step: stepRecord(a.id, step), Data: step.AllData()})
		}
		s.Attempts = append(s.Attempts, as)
	}
	return s
}

// Rows flattens the snapshot into the ordered rows a store load returns.
func (s Snapshot) Rows() []Row {
	rows := []Row{}
	attempts := make([]AttemptSnapshot, len(s.Attempts))
	copy(attempts, s.Attempts)
	sort.SliceStable(attempts, func(i, j int) bool { return attempts[i].Attempt.Slot < attempts[j].Attempt.Slot })

	for _, as := range attempts {
		attempt := as.Attempt
		if len(as.Steps) == 0 {
			rows = append(rows, Row{Usage: s.Usage, Attempt: &attempt})
			continue
		}
		for _, ss := range as.Steps {
			step := ss.Step
			if len(ss.Data) == 0 {
				rows = append(rows, Row{Usage: s.Usage, Attempt: &attempt, Step: &step})
				continue
			}
			names := make([]string, 0, len(ss.Data))
			for name := range ss.Data {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				rows = append(rows, Row{
					Usage:   s.Usage,
					Attempt: &attempt,
					Step:    &step,
					Data:    &StepDataRecord{StepID: step.ID, Name: name, Value: ss.Data[name]},
				})
			}
		}
	}
	if len(rows) == 0 {
		rows = append(rows, Row{Usage: s.Usage})
	}
	return rows
}

// RestoreSnapshot rebuilds a usage by folding the snapshot's rows.
func RestoreSnapshot(ctx context.Context, s Snapshot, questions QuestionSource, opts ...Option) (*Usage, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	return LoadUsageFromRows(ctx, s.Usage.ID, s.Rows(), questions, opts...)
}

// MarshalSnapshot encodes a usage as snapshot JSON.
func MarshalSnapshot(u *Usage) ([]byte, error) {
	return json.Marshal(TakeSnapshot(u))
}

// UnmarshalSnapshot decodes snapshot JSON and checks its version.
func UnmarshalSnapshot(raw []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	return s, nil
}
