// Package progress derives task completion and rolls it up into phase and
// project percentages.
package progress

import (
	"strings"

	"propline/internal/domain"
	"propline/internal/field"
	"propline/internal/schedule"
)

// Counts tallies completed tasks among completable ones.
type Counts struct {
	Completed   int `json:"completed"`
	Completable int `json:"completable"`
}

// Percent is 100*completed/completable, or 0 when nothing is completable.
func (c Counts) Percent() float64 {
	if c.Completable == 0 {
		return 0
	}
	return 100 * float64(c.Completed) / float64(c.Completable)
}

// Status maps counts to a project status.
func (c Counts) Status() string {
	switch {
	case c.Completed == 0:
		return domain.ProjectPending
	case c.Completed >= c.Completable:
		return domain.ProjectCompleted
	default:
		return domain.ProjectInProgress
	}
}

func (c Counts) add(o Counts) Counts {
	return Counts{Completed: c.Completed + o.Completed, Completable: c.Completable + o.Completable}
}

// Count tallies tasks, skipping section headers.
func Count(tasks []domain.Task) Counts {
	var c Counts
	for _, t := range tasks {
		if !field.Completable(t.FieldType) {
			continue
		}
		c.Completable++
		if t.Status == domain.TaskCompleted {
			c.Completed++
		}
	}
	return c
}

// ByPhase tallies tasks per phase number.
func ByPhase(tasks []domain.Task) map[int]Counts {
	out := map[int]Counts{}
	for _, t := range tasks {
		out[t.PhaseNumber] = out[t.PhaseNumber].add(Count([]domain.Task{t}))
	}
	return out
}

// PhaseCompletion is the completion percentage of one phase.
func PhaseCompletion(tasks []domain.Task, phase int) float64 {
	return ByPhase(tasks)[phase].Percent()
}

// ProjectProgress is the completion percentage across every phase.
func ProjectProgress(tasks []domain.Task) float64 {
	return Count(tasks).Percent()
}

// StatusFor maps a progress percentage to a project status.
func StatusFor(progress float64) string {
	switch {
	case progress <= 0:
		return domain.ProjectPending
	case progress >= 100:
		return domain.ProjectCompleted
	default:
		return domain.ProjectInProgress
	}
}

// HasEvidence reports whether a task records anything that can back a
// completed status. Reschedule audit lines are not evidence.
func HasEvidence(t domain.Task) bool {
	return strings.TrimSpace(t.FieldValue) != "" ||
		(t.FilePath != nil && strings.TrimSpace(*t.FilePath) != "") ||
		schedule.ManualNotes(t.Notes) != ""
}

// IsComplete derives the completion of a task from its recorded data.
// Non-empty notes alone complete any field-bearing task; reschedule audit
// lines do not count as notes.
func IsComplete(t domain.Task) bool {
	k, err := field.Lookup(t.FieldType)
	if err != nil || !k.Hint().Completable {
		return false
	}
	if t.IsNotApplicable() {
		return true
	}
	return k.IsComplete(t.FieldValue, t.FilePath) || schedule.ManualNotes(t.Notes) != ""
}
