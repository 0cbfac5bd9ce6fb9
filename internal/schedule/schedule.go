// Package schedule derives due-date state and validates due-date changes.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"propline/internal/domain"
	"propline/internal/field"
)

// DefaultCeilingDays bounds how far an overdue task may be pushed out.
const DefaultCeilingDays = 28

// noteStamp is the timestamp layout of audit lines.
const noteStamp = "2006-01-02 15:04 UTC"

type State string

const (
	NoDueDate State = "no-due-date"
	OnTrack   State = "on-track"
	DueToday  State = "due-today"
	Overdue   State = "overdue"
	Completed State = "completed"
)

// ErrInvalid marks every rejection produced by Plan.
var ErrInvalid = errors.New("invalid due date change")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Today returns the calendar date of now as a UTC midnight.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Today(b).Sub(Today(a)).Hours() / 24)
}

// StateOf derives the due state of a task. Unparseable dates count as missing.
func StateOf(t domain.Task, now time.Time) State {
	if t.Status == domain.TaskCompleted {
		return Completed
	}
	if t.DueDate == nil || *t.DueDate == "" {
		return NoDueDate
	}
	due, err := field.ParseDate(*t.DueDate)
	if err != nil {
		return NoDueDate
	}
	switch today := Today(now); {
	case due.Before(today):
		return Overdue
	case due.Equal(today):
		return DueToday
	default:
		return OnTrack
	}
}

type Rules struct {
	CeilingDays int
}

func (r Rules) ceiling() int {
	if r.CeilingDays <= 0 {
		return DefaultCeilingDays
	}
	return r.CeilingDays
}

// Plan is a validated due-date change ready to be persisted.
type Plan struct {
	PreviousDueDate *string
	// BaseDueDate is the date DaysDelayed is measured from, if any.
	BaseDueDate     *string
	NewDueDate      string
	OriginalDueDate string
	DaysDelayed     int
	WasOverdue      bool
	Reason          string
	Notes           string
}

// Plan validates moving t to newDate. It never mutates t.
func (r Rules) Plan(t domain.Task, newDate, reason, actorName string, now time.Time) (Plan, error) {
	if t.FieldType == field.SectionHeader {
		return Plan{}, invalid("section headers have no due date")
	}
	newDate = strings.TrimSpace(newDate)
	reason = strings.TrimSpace(reason)
	if newDate == "" {
		return Plan{}, invalid("new due date is required")
	}
	if reason == "" {
		return Plan{}, invalid("reason is required")
	}
	target, err := field.ParseDate(newDate)
	if err != nil {
		return Plan{}, invalid("due date must be YYYY-MM-DD, got %q", newDate)
	}
	today := Today(now)
	if target.Before(today) {
		return Plan{}, invalid("due date %s is in the past", target.Format(field.DateLayout))
	}
	overdue := StateOf(t, now) == Overdue
	if overdue {
		limit := today.AddDate(0, 0, r.ceiling())
		if target.After(limit) {
			return Plan{}, invalid("overdue tasks can move at most %d days out (until %s)", r.ceiling(), limit.Format(field.DateLayout))
		}
	}

	p := Plan{
		NewDueDate: target.Format(field.DateLayout),
		WasOverdue: overdue,
		Reason:     reason,
	}
	base := ""
	if t.DueDate != nil && *t.DueDate != "" {
		prev := *t.DueDate
		p.PreviousDueDate = &prev
		base = prev
	} else if t.OriginalDueDate != nil {
		base = *t.OriginalDueDate
	}
	if base != "" {
		if from, err := field.ParseDate(base); err == nil {
			b := from.Format(field.DateLayout)
			p.BaseDueDate = &b
			p.DaysDelayed = DaysBetween(from, target)
		}
	}
	switch {
	case t.OriginalDueDate != nil && *t.OriginalDueDate != "":
		p.OriginalDueDate = *t.OriginalDueDate
	case p.PreviousDueDate != nil:
		p.OriginalDueDate = *p.PreviousDueDate
	default:
		p.OriginalDueDate = p.NewDueDate
	}
	p.Notes = AppendNote(t.Notes, FormatNote(now, actorName, p))
	return p, nil
}

// FormatNote renders the audit line appended to a task's notes.
func FormatNote(now time.Time, actorName string, p Plan) string {
	from := "unscheduled"
	switch {
	case p.PreviousDueDate != nil:
		from = *p.PreviousDueDate
	case p.BaseDueDate != nil:
		from = "unscheduled (original " + *p.BaseDueDate + ")"
	}
	if actorName == "" {
		actorName = "unknown"
	}
	return fmt.Sprintf("[%s] Due date %s -> %s by %s (%+d days): %s",
		now.UTC().Format(noteStamp), from, p.NewDueDate, actorName, p.DaysDelayed, p.Reason)
}

// AppendNote concatenates without discarding existing notes.
func AppendNote(existing, note string) string {
	if strings.TrimSpace(existing) == "" {
		return note
	}
	return strings.TrimRight(existing, "\n") + "\n" + note
}

// IsAuditNote reports whether line was written by FormatNote.
func IsAuditNote(line string) bool {
	line = strings.TrimSpace(line)
	end := 1 + len(noteStamp)
	if len(line) <= end || line[0] != '[' || line[end] != ']' {
		return false
	}
	if _, err := time.Parse(noteStamp, line[1:end]); err != nil {
		return false
	}
	return strings.HasPrefix(line[end+1:], " Due date ")
}

// ManualNotes returns notes without reschedule audit lines or blank lines.
func ManualNotes(notes string) string {
	var kept []string
	for _, line := range strings.Split(notes, "\n") {
		if strings.TrimSpace(line) == "" || IsAuditNote(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
