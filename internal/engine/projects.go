package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"propline/internal/domain"
	"propline/internal/engine/auth"
	"propline/internal/events"
	"propline/internal/field"
	"propline/internal/progress"
	"propline/internal/repo"
	"propline/internal/schedule"
)

type CreateProjectOptions struct {
	ID              string `json:"id,omitempty"`
	PropertyID      string `json:"property_id" validate:"required"`
	OwnerID         string `json:"owner_id" validate:"required"`
	OwnerName       string `json:"owner_name,omitempty"`
	PropertyAddress string `json:"property_address,omitempty"`
}

// CreateProject opens an onboarding project and seeds one task per template.
func (e Engine) CreateProject(ctx context.Context, actor auth.Actor, opts CreateProjectOptions) (domain.Project, error) {
	opts.PropertyID = strings.TrimSpace(opts.PropertyID)
	opts.OwnerID = strings.TrimSpace(opts.OwnerID)
	if err := check(opts); err != nil {
		return domain.Project{}, err
	}
	now := e.stamp()
	p := domain.Project{
		ID:              opts.ID,
		PropertyID:      opts.PropertyID,
		OwnerID:         opts.OwnerID,
		OwnerName:       strings.TrimSpace(opts.OwnerName),
		PropertyAddress: strings.TrimSpace(opts.PropertyAddress),
		Progress:        0,
		Status:          domain.ProjectPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	seeded := 0
	err := e.inTx(ctx, "create project", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProject(ctx, tx, p.ID); err == nil {
			return invalid("id", "project %s already exists", p.ID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.seedTemplatesTx(ctx, tx); err != nil {
			return err
		}
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return err
		}
		templates, err := e.Repo.ListTemplates(ctx, tx, 0)
		if err != nil {
			return err
		}
		for _, tpl := range templates {
			if _, ok := e.catalog().Phase(tpl.PhaseNumber); !ok {
				continue
			}
			created, err := e.Repo.InsertTask(ctx, tx, e.instantiate(p.ID, tpl, now))
			if err != nil {
				return err
			}
			if created {
				seeded++
			}
		}
		return e.journal().Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actorID(actor), events.EventPayload{
			"property_id": p.PropertyID,
			"owner_id":    p.OwnerID,
			"tasks":       seeded,
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.logger().Printf("[engine] project %s created for property %s with %d tasks", p.ID, p.PropertyID, seeded)
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, nil, id)
	if err != nil {
		return p, notFound("project", id, err)
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	res, err := e.Repo.ListProjects(ctx, f)
	return res, persistErr("list projects", err)
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.loadTask(ctx, nil, id)
}

// BackfillPhases creates the template tasks of every catalog phase that has
// no task instance in the project yet, then refreshes progress.
func (e Engine) BackfillPhases(ctx context.Context, actor auth.Actor, projectID string) (int, error) {
	created := 0
	err := e.inTx(ctx, "backfill phases", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProject(ctx, tx, projectID); err != nil {
			return notFound("project", projectID, err)
		}
		counts, err := e.Repo.CountTasksByPhase(ctx, tx, projectID)
		if err != nil {
			return err
		}
		var missing []int
		for _, ph := range e.catalog().Phases() {
			if counts[ph.Number] == 0 {
				missing = append(missing, ph.Number)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		if err := e.seedTemplatesTx(ctx, tx); err != nil {
			return err
		}
		now := e.stamp()
		for _, n := range missing {
			templates, err := e.Repo.ListTemplates(ctx, tx, n)
			if err != nil {
				return err
			}
			for _, tpl := range templates {
				ok, err := e.Repo.InsertTask(ctx, tx, e.instantiate(projectID, tpl, now))
				if err != nil {
					return err
				}
				if ok {
					created++
				}
			}
		}
		if created == 0 {
			return nil
		}
		p, err := e.recomputeTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.PhaseBackfilled, projectID, "project", projectID, actorID(actor), events.EventPayload{
			"phases":   missing,
			"created":  created,
			"progress": p.Progress,
		})
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		e.logger().Printf("[engine] project %s: backfilled %d tasks", projectID, created)
	}
	return created, nil
}

type Assignee struct {
	UserID string `json:"user_id,omitempty"`
	RoleID string `json:"role_id,omitempty"`
	Source string `json:"source" enum:"assigned,phase_default,unassigned"`
	Name   string `json:"name,omitempty"`
}

type TaskView struct {
	domain.Task
	Assignee Assignee       `json:"assignee"`
	DueState schedule.State `json:"due_state" enum:"no-due-date,on-track,due-today,overdue,completed"`
	Editable bool           `json:"editable"`
	Hint     field.Hint     `json:"hint"`
}

type PhaseView struct {
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Categories    []string   `json:"categories,omitempty"`
	CompletionPct float64    `json:"completion_pct"`
	Completed     int        `json:"completed"`
	Completable   int        `json:"completable"`
	Tasks         []TaskView `json:"tasks"`
}

// ListPhasesWithProgress heals missing phases, then returns every catalog
// phase with its completion and decorated tasks.
func (e Engine) ListPhasesWithProgress(ctx context.Context, actor auth.Actor, projectID string) ([]PhaseView, error) {
	if _, err := e.BackfillPhases(ctx, actor, projectID); err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasks(ctx, nil, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, persistErr("list tasks", err)
	}
	names := e.userNames(ctx)
	resolver := e.resolver(nil)
	now := e.now()
	byPhase := map[int][]domain.Task{}
	for _, t := range tasks {
		byPhase[t.PhaseNumber] = append(byPhase[t.PhaseNumber], t)
	}
	var out []PhaseView
	for _, ph := range e.catalog().Phases() {
		phaseTasks := byPhase[ph.Number]
		c := progress.Count(phaseTasks)
		view := PhaseView{
			Number:        ph.Number,
			Title:         ph.Title,
			Description:   ph.Description,
			Categories:    ph.Categories(),
			CompletionPct: c.Percent(),
			Completed:     c.Completed,
			Completable:   c.Completable,
			Tasks:         make([]TaskView, 0, len(phaseTasks)),
		}
		for _, t := range phaseTasks {
			a := resolver.Resolve(ctx, t)
			tv := TaskView{
				Task:     t,
				Assignee: Assignee{UserID: a.UserID, RoleID: a.RoleID, Source: string(a.Source), Name: names[a.UserID]},
				DueState: schedule.StateOf(t, now),
				Editable: t.FieldType != field.SectionHeader && !t.IsNotApplicable() && CanEditField(t.FieldValue, actor.Admin, false),
			}
			if k, err := field.Lookup(t.FieldType); err == nil {
				tv.Hint = k.Hint()
			}
			view.Tasks = append(view.Tasks, tv)
		}
		out = append(out, view)
	}
	return out, nil
}

func (e Engine) userNames(ctx context.Context) map[string]string {
	names := map[string]string{}
	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		e.logger().Printf("[engine] list users for display: %v", err)
		return names
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names
}
