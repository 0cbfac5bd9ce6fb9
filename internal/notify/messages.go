package notify

import (
	"fmt"
	"strings"

	"propline/internal/domain"
)

// Event kinds carried on Message.
const (
	EventAssigned    = "task.assigned"
	EventRescheduled = "task.rescheduled"
	EventOverdue     = "reminder.overdue"
)

func projectLabel(p domain.Project) string {
	if p.PropertyAddress != "" {
		return p.PropertyAddress
	}
	return p.PropertyID
}

// Assigned tells a user a task is now theirs.
func Assigned(to domain.User, p domain.Project, t domain.Task, by string) Message {
	body := fmt.Sprintf("%s assigned you \"%s\" (phase %d, %s) for %s.", by, t.Title, t.PhaseNumber, t.PhaseTitle, projectLabel(p))
	if t.DueDate != nil {
		body += "\nDue " + *t.DueDate + "."
	}
	return Message{
		Event:     EventAssigned,
		To:        to,
		Subject:   "New onboarding task: " + t.Title,
		Body:      body,
		ProjectID: p.ID,
		TaskID:    t.ID,
	}
}

// Rescheduled tells the assignee a due date moved.
func Rescheduled(to domain.User, p domain.Project, t domain.Task, l domain.RescheduleLog) Message {
	from := "no date"
	if l.PreviousDueDate != nil {
		from = *l.PreviousDueDate
	}
	body := fmt.Sprintf("%s moved \"%s\" for %s from %s to %s (%+d days).\nReason: %s",
		l.ActorName, t.Title, projectLabel(p), from, l.NewDueDate, l.DaysDelayed, l.Reason)
	return Message{
		Event:     EventRescheduled,
		To:        to,
		Subject:   "Due date changed: " + t.Title,
		Body:      body,
		ProjectID: p.ID,
		TaskID:    t.ID,
	}
}

// OverdueDigest lists every overdue task of one user.
func OverdueDigest(to domain.User, tasks []domain.Task, today string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%d onboarding task(s) overdue as of %s:", len(tasks), today)
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = *t.DueDate
		}
		fmt.Fprintf(&b, "\n- %s (phase %d, due %s)", t.Title, t.PhaseNumber, due)
	}
	return Message{
		Event:   EventOverdue,
		To:      to,
		Subject: fmt.Sprintf("%d overdue onboarding task(s)", len(tasks)),
		Body:    b.String(),
	}
}
