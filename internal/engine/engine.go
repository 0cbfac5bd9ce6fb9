package engine

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"propline/internal/catalog"
	"propline/internal/config"
	"propline/internal/domain"
	"propline/internal/engine/auth"
	"propline/internal/events"
	"propline/internal/field"
	"propline/internal/notify"
	"propline/internal/progress"
	"propline/internal/repo"
	"propline/internal/schedule"
)

// FileStore keeps task attachments.
type FileStore interface {
	Put(ctx context.Context, taskID, filename string, r io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
	SignedURL(path string, ttl time.Duration) (string, error)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Catalog  *catalog.Catalog
	Config   *config.Config
	Files    FileStore
	Notifier notify.Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Catalog:  catalog.Default(),
		Config:   cfg,
		Notifier: notify.Nop{},
		Logger:   log.Default(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) catalog() *catalog.Catalog {
	if e.Catalog != nil {
		return e.Catalog
	}
	return catalog.Default()
}

func (e Engine) rules() schedule.Rules {
	if e.Config == nil {
		return schedule.Rules{}
	}
	return schedule.Rules{CeilingDays: e.Config.Schedule.RescheduleCeilingDays}
}

func (e Engine) journal() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func actorID(a auth.Actor) string {
	if a.ID == "" {
		return "system"
	}
	return a.ID
}

// inTx runs fn in one transaction. Any error rolls everything back.
func (e Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return persistErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}

// taskID is stable per (project, phase, title).
func taskID(projectID string, phase int, title string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%d|%s", projectID, phase, title))).String()
}

func (e Engine) instantiate(projectID string, tpl domain.TaskTemplate, now string) domain.Task {
	var role *string
	if tpl.DefaultRoleID != nil && *tpl.DefaultRoleID != "" {
		r := *tpl.DefaultRoleID
		role = &r
	}
	return domain.Task{
		ID:             taskID(projectID, tpl.PhaseNumber, tpl.Title),
		ProjectID:      projectID,
		PhaseNumber:    tpl.PhaseNumber,
		PhaseTitle:     e.catalog().Title(tpl.PhaseNumber),
		Title:          tpl.Title,
		Description:    tpl.Description,
		FieldType:      tpl.FieldType,
		Status:         domain.TaskPending,
		AssignedRoleID: role,
		Position:       tpl.Position,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (e Engine) seedTemplatesTx(ctx context.Context, tx *sql.Tx) error {
	now := e.stamp()
	for _, tpl := range e.catalog().Templates() {
		tpl.CreatedAt, tpl.UpdatedAt = now, now
		if err := e.Repo.SeedTemplate(ctx, tx, tpl); err != nil {
			return fmt.Errorf("seed template %d/%s: %w", tpl.PhaseNumber, tpl.Title, err)
		}
	}
	return nil
}

// SeedTemplates loads the built-in catalog into the template table without
// touching rows that already exist.
func (e Engine) SeedTemplates(ctx context.Context) error {
	return e.inTx(ctx, "seed templates", func(tx *sql.Tx) error {
		return e.seedTemplatesTx(ctx, tx)
	})
}

// recomputeTx stores the project progress derived from its tasks.
func (e Engine) recomputeTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return p, notFound("project", projectID, err)
	}
	tasks, err := e.Repo.ListTasks(ctx, tx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return p, err
	}
	c := progress.Count(tasks)
	p.Progress = c.Percent()
	p.Status = c.Status()
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProjectProgress(ctx, tx, p.ID, p.Progress, p.Status, p.UpdatedAt); err != nil {
		return p, err
	}
	return p, nil
}

// RecomputeProgress re-derives a project's progress and status from its tasks.
func (e Engine) RecomputeProgress(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, "recompute progress", func(tx *sql.Tx) error {
		var err error
		if p, err = e.recomputeTx(ctx, tx, projectID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.ProjectProgress, p.ID, "project", p.ID, actorID(actor), events.EventPayload{
			"progress": p.Progress,
			"status":   p.Status,
		})
	})
	return p, err
}

// applyStatus derives status and completed_date from the task's data. force
// completes a task that records evidence but does not satisfy its field kind.
func (e Engine) applyStatus(t *domain.Task, force bool) error {
	complete := progress.IsComplete(*t)
	if !complete && force {
		if !progress.HasEvidence(*t) {
			return invalid("status", "record a value, file or note before completing")
		}
		complete = true
	}
	if complete {
		t.Status = domain.TaskCompleted
		if t.CompletedDate == nil {
			now := e.stamp()
			t.CompletedDate = &now
		}
		return nil
	}
	t.Status = domain.TaskPending
	t.CompletedDate = nil
	return nil
}

func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return t, notFound("task", id, err)
	}
	return t, nil
}

func fieldBearing(t domain.Task) error {
	if t.FieldType == field.SectionHeader {
		return invalid("task", "%q is a section header", t.Title)
	}
	return nil
}

func (e Engine) notify(ctx context.Context, msg notify.Message) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, msg); err != nil {
		e.logger().Printf("[engine] notify %s for task %s: %v", msg.Event, msg.TaskID, err)
	}
}

// notifyAssignee sends to whoever the task resolves to, unless that is the actor.
func (e Engine) notifyAssignee(ctx context.Context, actor auth.Actor, t domain.Task, build func(domain.User) notify.Message) {
	a := e.resolver(nil).Resolve(ctx, t)
	if !a.Assigned() || a.UserID == actor.ID {
		return
	}
	u, err := e.Repo.GetUser(ctx, nil, a.UserID)
	if err != nil {
		e.logger().Printf("[engine] notify: load user %s: %v", a.UserID, err)
		return
	}
	e.notify(ctx, build(u))
}
