package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"propline/internal/assign"
	"propline/internal/domain"
	"propline/internal/engine/auth"
	"propline/internal/events"
	"propline/internal/notify"
	"propline/internal/repo"
	"propline/internal/schedule"
)

func (e Engine) resolver(tx *sql.Tx) assign.Resolver {
	return assign.Resolver{Dir: repo.Directory{Repo: e.Repo, Tx: tx}, Logger: e.logger()}
}

type AssignOptions struct {
	TaskID string `json:"task_id" validate:"required"`
	// UserID nil or empty clears the explicit assignment.
	UserID *string `json:"user_id,omitempty"`
	// SaveAsTemplate stores the user's primary role as the default of this
	// task for future projects. Admin only.
	SaveAsTemplate bool `json:"save_as_template,omitempty"`
}

// AssignTask sets or clears the explicit assignee of a task.
func (e Engine) AssignTask(ctx context.Context, actor auth.Actor, opts AssignOptions) (domain.Task, error) {
	if err := check(opts); err != nil {
		return domain.Task{}, err
	}
	userID := ""
	if opts.UserID != nil {
		userID = strings.TrimSpace(*opts.UserID)
	}
	if opts.SaveAsTemplate {
		if err := requireAdmin(actor, "save an assignment as template"); err != nil {
			return domain.Task{}, err
		}
		if userID == "" {
			return domain.Task{}, invalid("user_id", "saving as template needs a user")
		}
	}
	var (
		t        domain.Task
		p        domain.Project
		assignee domain.User
		changed  bool
	)
	err := e.inTx(ctx, "assign task", func(tx *sql.Tx) error {
		var err error
		if t, err = e.loadTask(ctx, tx, opts.TaskID); err != nil {
			return err
		}
		if err := fieldBearing(t); err != nil {
			return err
		}
		if p, err = e.Repo.GetProject(ctx, tx, t.ProjectID); err != nil {
			return notFound("project", t.ProjectID, err)
		}
		prev := ""
		if t.AssignedToUUID != nil {
			prev = *t.AssignedToUUID
		}
		if userID == "" {
			t.AssignedToUUID = nil
		} else {
			if assignee, err = e.Repo.GetUser(ctx, tx, userID); err != nil {
				return notFound("user", userID, err)
			}
			id := userID
			t.AssignedToUUID = &id
		}
		changed = prev != userID
		payload := events.EventPayload{"from": prev, "to": userID}
		if opts.SaveAsTemplate {
			if assignee.RoleID == "" {
				return invalid("user_id", "user %s has no primary role", userID)
			}
			role := assignee.RoleID
			t.AssignedRoleID = &role
			if _, err := e.Repo.GetTemplate(ctx, tx, t.PhaseNumber, t.Title); err != nil {
				if err := e.Repo.UpsertTemplate(ctx, tx, domain.TaskTemplate{
					PhaseNumber:   t.PhaseNumber,
					Title:         t.Title,
					Description:   t.Description,
					FieldType:     t.FieldType,
					DefaultRoleID: &role,
					Position:      t.Position,
					CreatedAt:     e.stamp(),
					UpdatedAt:     e.stamp(),
				}); err != nil {
					return err
				}
			} else if err := e.Repo.SetTemplateRole(ctx, tx, t.PhaseNumber, t.Title, role, e.stamp()); err != nil {
				return err
			}
			payload["template_role"] = role
		}
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.TaskAssigned, t.ProjectID, "task", t.ID, actorID(actor), payload)
	})
	if err != nil {
		return domain.Task{}, err
	}
	if changed && userID != "" && userID != actor.ID {
		e.notify(ctx, notify.Assigned(assignee, p, t, actor.DisplayName()))
	}
	return t, nil
}

// ResolveAssignee reports who is responsible for a task and why.
func (e Engine) ResolveAssignee(ctx context.Context, taskID string) (Assignee, error) {
	t, err := e.loadTask(ctx, nil, taskID)
	if err != nil {
		return Assignee{}, err
	}
	a := e.resolver(nil).Resolve(ctx, t)
	out := Assignee{UserID: a.UserID, RoleID: a.RoleID, Source: string(a.Source)}
	if a.Assigned() {
		if u, err := e.Repo.GetUser(ctx, nil, a.UserID); err == nil {
			out.Name = u.Name
		}
	}
	return out, nil
}

type RescheduleOptions struct {
	TaskID     string `json:"task_id" validate:"required"`
	NewDueDate string `json:"new_due_date" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// RescheduleTask sets or moves a due date. The audit entry and the task
// update commit together or not at all. Status is left untouched.
func (e Engine) RescheduleTask(ctx context.Context, actor auth.Actor, opts RescheduleOptions) (domain.RescheduleLog, error) {
	opts.Reason = strings.TrimSpace(opts.Reason)
	if err := check(opts); err != nil {
		return domain.RescheduleLog{}, err
	}
	var (
		entry domain.RescheduleLog
		t     domain.Task
		p     domain.Project
	)
	now := e.now()
	err := e.inTx(ctx, "reschedule task", func(tx *sql.Tx) error {
		var err error
		if t, err = e.loadTask(ctx, tx, opts.TaskID); err != nil {
			return err
		}
		plan, err := e.rules().Plan(t, opts.NewDueDate, opts.Reason, actor.DisplayName(), now)
		if err != nil {
			return ValidationError{Field: "due_date", Reason: err.Error()}
		}
		if p, err = e.Repo.GetProject(ctx, tx, t.ProjectID); err != nil {
			return notFound("project", t.ProjectID, err)
		}
		entry = domain.RescheduleLog{
			ID:              uuid.NewString(),
			TaskID:          t.ID,
			ProjectID:       t.ProjectID,
			PreviousDueDate: plan.PreviousDueDate,
			BaseDueDate:     plan.BaseDueDate,
			NewDueDate:      plan.NewDueDate,
			Reason:          plan.Reason,
			ActorID:         actorID(actor),
			ActorName:       actor.DisplayName(),
			DaysDelayed:     plan.DaysDelayed,
			CreatedAt:       e.stamp(),
		}
		if err := e.Repo.InsertRescheduleLog(ctx, tx, entry); err != nil {
			return err
		}
		due, orig := plan.NewDueDate, plan.OriginalDueDate
		t.DueDate = &due
		t.OriginalDueDate = &orig
		t.Notes = plan.Notes
		t.UpdatedAt = entry.CreatedAt
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.TaskRescheduled, t.ProjectID, "task", t.ID, actorID(actor), events.EventPayload{
			"log_id":       entry.ID,
			"new_due_date": entry.NewDueDate,
			"days_delayed": entry.DaysDelayed,
			"was_overdue":  plan.WasOverdue,
		})
	})
	if err != nil {
		return domain.RescheduleLog{}, err
	}
	e.notifyAssignee(ctx, actor, t, func(u domain.User) notify.Message {
		return notify.Rescheduled(u, p, t, entry)
	})
	return entry, nil
}

// ListRescheduleLogs returns the audit trail of a task, or of a whole project
// when taskID is empty.
func (e Engine) ListRescheduleLogs(ctx context.Context, taskID, projectID string) ([]domain.RescheduleLog, error) {
	if taskID == "" && projectID == "" {
		return nil, invalid("task_id", "task or project is required")
	}
	if taskID != "" {
		if _, err := e.loadTask(ctx, nil, taskID); err != nil {
			return nil, err
		}
	} else if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	logs, err := e.Repo.ListRescheduleLogs(ctx, nil, taskID, projectID)
	return logs, persistErr("list reschedule logs", err)
}

// OverdueGroup is the overdue work of one assignee.
type OverdueGroup struct {
	User  domain.User   `json:"user"`
	Tasks []domain.Task `json:"tasks"`
}

// OverdueTasks groups overdue pending tasks by resolved assignee. Unassigned
// tasks are skipped.
func (e Engine) OverdueTasks(ctx context.Context) ([]OverdueGroup, error) {
	now := e.now()
	today := schedule.Today(now).Format("2006-01-02")
	tasks, err := e.Repo.ListTasks(ctx, nil, repo.TaskFilters{Status: domain.TaskPending, DueBefore: today})
	if err != nil {
		return nil, persistErr("list overdue tasks", err)
	}
	users := map[string]domain.User{}
	all, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return nil, persistErr("list users", err)
	}
	for _, u := range all {
		users[u.ID] = u
	}
	resolver := e.resolver(nil)
	index := map[string]int{}
	var out []OverdueGroup
	for _, t := range tasks {
		if schedule.StateOf(t, now) != schedule.Overdue {
			continue
		}
		a := resolver.Resolve(ctx, t)
		u, ok := users[a.UserID]
		if !a.Assigned() || !ok {
			continue
		}
		i, seen := index[u.ID]
		if !seen {
			i = len(out)
			index[u.ID] = i
			out = append(out, OverdueGroup{User: u})
		}
		out[i].Tasks = append(out[i].Tasks, t)
	}
	return out, nil
}
