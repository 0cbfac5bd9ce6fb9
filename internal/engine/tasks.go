package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"propline/internal/domain"
	"propline/internal/engine/auth"
	"propline/internal/events"
	"propline/internal/field"
	"propline/internal/progress"
	"propline/internal/repo"
)

type UpdateFieldOptions struct {
	TaskID string  `json:"task_id" validate:"required"`
	Value  *string `json:"value,omitempty"`
	Notes  *string `json:"notes,omitempty"`
	// EditRequested reopens a filled field; only honored for admins.
	EditRequested bool `json:"edit_requested,omitempty"`
	// MarkComplete completes a task that records evidence its field kind
	// does not count, e.g. an unticked checkbox explained in notes.
	MarkComplete bool `json:"mark_complete,omitempty"`
}

type Delta struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

type FieldUpdate struct {
	Task            domain.Task `json:"task"`
	Status          string      `json:"status" enum:"pending,completed"`
	PhaseCompletion Delta       `json:"phase_completion"`
	ProjectProgress Delta       `json:"project_progress"`
	ProjectStatus   string      `json:"project_status" enum:"pending,in-progress,completed"`
}

// checkLock enforces the read-only lock against the stored value.
func checkLock(actor auth.Actor, current string, editRequested bool) error {
	if CanEditField(current, actor.Admin, editRequested) {
		return nil
	}
	if !actor.Admin {
		return AuthorizationError{Action: "change a filled field", ActorID: actor.ID}
	}
	return invalid("value", "field already has a value; request an edit to change it")
}

func replaceTask(tasks []domain.Task, t domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, cur := range tasks {
		if cur.ID == t.ID {
			cur = t
		}
		out[i] = cur
	}
	return out
}

// UpdateTaskField validates and stores a field value and/or notes, then
// re-derives task status and project progress.
func (e Engine) UpdateTaskField(ctx context.Context, actor auth.Actor, opts UpdateFieldOptions) (FieldUpdate, error) {
	if err := check(opts); err != nil {
		return FieldUpdate{}, err
	}
	if opts.Value == nil && opts.Notes == nil && !opts.MarkComplete {
		return FieldUpdate{}, invalid("", "nothing to update")
	}
	var res FieldUpdate
	err := e.inTx(ctx, "update task field", func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, opts.TaskID)
		if err != nil {
			return err
		}
		if err := fieldBearing(t); err != nil {
			return err
		}
		if t.IsNotApplicable() {
			return invalid("value", "task is marked N/A; an admin must clear it first")
		}
		kind, err := field.Lookup(t.FieldType)
		if err != nil {
			return invalid("field_type", "%v", err)
		}
		tasks, err := e.Repo.ListTasks(ctx, tx, repo.TaskFilters{ProjectID: t.ProjectID})
		if err != nil {
			return err
		}
		res.PhaseCompletion.Before = progress.PhaseCompletion(tasks, t.PhaseNumber)
		res.ProjectProgress.Before = progress.ProjectProgress(tasks)

		before := t
		if opts.Value != nil {
			if kind.Hint().UsesFile {
				return invalid("value", "file fields change by attaching or detaching a file")
			}
			v, err := kind.Parse(*opts.Value)
			if err != nil {
				return invalid("value", "%v", err)
			}
			if v == domain.NotApplicable {
				return invalid("value", "use mark N/A with a justification instead")
			}
			if v != t.FieldValue {
				if err := checkLock(actor, t.FieldValue, opts.EditRequested); err != nil {
					return err
				}
				t.FieldValue = v
			}
		}
		if opts.Notes != nil {
			t.Notes = strings.TrimSpace(*opts.Notes)
		}
		if err := e.applyStatus(&t, opts.MarkComplete); err != nil {
			return err
		}
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		after := replaceTask(tasks, t)
		res.PhaseCompletion.After = progress.PhaseCompletion(after, t.PhaseNumber)
		res.ProjectProgress.After = progress.ProjectProgress(after)
		p, err := e.recomputeTx(ctx, tx, t.ProjectID)
		if err != nil {
			return err
		}
		res.Task = t
		res.Status = t.Status
		res.ProjectStatus = p.Status
		return e.journal().Append(ctx, tx, events.TaskUpdated, t.ProjectID, "task", t.ID, actorID(actor), events.EventPayload{
			"value_changed":  before.FieldValue != t.FieldValue,
			"notes_changed":  before.Notes != t.Notes,
			"status_before":  before.Status,
			"status_after":   t.Status,
			"project_before": res.ProjectProgress.Before,
			"project_after":  res.ProjectProgress.After,
		})
	})
	return res, err
}

type AttachFileOptions struct {
	TaskID        string `json:"task_id" validate:"required"`
	Filename      string `json:"filename" validate:"required"`
	EditRequested bool   `json:"edit_requested,omitempty"`
}

func (e Engine) fileTask(t domain.Task) error {
	if err := fieldBearing(t); err != nil {
		return err
	}
	if t.FieldType != field.File {
		return invalid("task", "%q is not a file field", t.Title)
	}
	if t.IsNotApplicable() {
		return invalid("task", "task is marked N/A; an admin must clear it first")
	}
	return nil
}

// AttachTaskFile stores a blob and records it on a file field. A blob whose
// task update fails is removed again.
func (e Engine) AttachTaskFile(ctx context.Context, actor auth.Actor, opts AttachFileOptions, r io.Reader) (domain.Task, error) {
	if err := check(opts); err != nil {
		return domain.Task{}, err
	}
	if e.Files == nil {
		return domain.Task{}, PersistenceError{Op: "attach file", Err: errors.New("file storage not configured")}
	}
	t, err := e.loadTask(ctx, nil, opts.TaskID)
	if err != nil {
		return t, err
	}
	if err := e.fileTask(t); err != nil {
		return t, err
	}
	if err := checkLock(actor, t.FieldValue, opts.EditRequested); err != nil {
		return t, err
	}
	blob, err := e.Files.Put(ctx, t.ID, opts.Filename, r)
	if err != nil {
		return t, PersistenceError{Op: "store file", Err: err}
	}
	var previous *string
	err = e.inTx(ctx, "attach file", func(tx *sql.Tx) error {
		cur, err := e.loadTask(ctx, tx, opts.TaskID)
		if err != nil {
			return err
		}
		if err := checkLock(actor, cur.FieldValue, opts.EditRequested); err != nil {
			return err
		}
		previous = cur.FilePath
		cur.FilePath = &blob
		cur.FieldValue = filepath.Base(strings.TrimSpace(opts.Filename))
		if err := e.applyStatus(&cur, false); err != nil {
			return err
		}
		cur.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, cur); err != nil {
			return err
		}
		if _, err := e.recomputeTx(ctx, tx, cur.ProjectID); err != nil {
			return err
		}
		t = cur
		return e.journal().Append(ctx, tx, events.TaskFileAttached, cur.ProjectID, "task", cur.ID, actorID(actor), events.EventPayload{
			"file_path": blob,
			"filename":  cur.FieldValue,
		})
	})
	if err != nil {
		if derr := e.Files.Delete(ctx, blob); derr != nil {
			e.logger().Printf("[engine] remove orphaned blob %s: %v", blob, derr)
		}
		return domain.Task{}, err
	}
	if previous != nil && *previous != blob {
		e.removeBlob(ctx, *previous)
	}
	return t, nil
}

// DetachTaskFile clears the attachment of a file field.
func (e Engine) DetachTaskFile(ctx context.Context, actor auth.Actor, id string, editRequested bool) (domain.Task, error) {
	var (
		t    domain.Task
		blob string
	)
	err := e.inTx(ctx, "detach file", func(tx *sql.Tx) error {
		var err error
		if t, err = e.loadTask(ctx, tx, id); err != nil {
			return err
		}
		if err := e.fileTask(t); err != nil {
			return err
		}
		if t.FilePath == nil {
			return invalid("task", "no file attached")
		}
		if err := checkLock(actor, t.FieldValue, editRequested); err != nil {
			return err
		}
		blob = *t.FilePath
		t.FilePath = nil
		t.FieldValue = ""
		if err := e.applyStatus(&t, false); err != nil {
			return err
		}
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.TaskFileDetached, t.ProjectID, "task", t.ID, actorID(actor), events.EventPayload{"file_path": blob})
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.removeBlob(ctx, blob)
	return t, nil
}

func (e Engine) removeBlob(ctx context.Context, path string) {
	if e.Files == nil || path == "" {
		return
	}
	if err := e.Files.Delete(ctx, path); err != nil {
		e.logger().Printf("[engine] remove blob %s: %v", path, err)
	}
}

// TaskFileURL mints a time-limited link to a task's attachment.
func (e Engine) TaskFileURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	t, err := e.loadTask(ctx, nil, id)
	if err != nil {
		return "", err
	}
	if t.FilePath == nil {
		return "", NotFoundError{Kind: "file of task", ID: id}
	}
	if e.Files == nil {
		return "", PersistenceError{Op: "sign file url", Err: errors.New("file storage not configured")}
	}
	if ttl <= 0 && e.Config != nil {
		ttl = time.Duration(e.Config.Storage.URLTTLSeconds) * time.Second
	}
	link, err := e.Files.SignedURL(*t.FilePath, ttl)
	if err != nil {
		return "", PersistenceError{Op: "sign file url", Err: err}
	}
	return link, nil
}

// MarkNotApplicable completes a task as intentionally skipped. Overwriting a
// filled task this way needs an admin.
func (e Engine) MarkNotApplicable(ctx context.Context, actor auth.Actor, id, reason string) (domain.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Task{}, invalid("reason", "a justification is required")
	}
	var t domain.Task
	err := e.inTx(ctx, "mark task N/A", func(tx *sql.Tx) error {
		var err error
		if t, err = e.loadTask(ctx, tx, id); err != nil {
			return err
		}
		if err := fieldBearing(t); err != nil {
			return err
		}
		if t.IsNotApplicable() {
			return invalid("task", "already marked N/A")
		}
		if strings.TrimSpace(t.FieldValue) != "" || t.FilePath != nil {
			if err := requireAdmin(actor, "mark a filled task N/A"); err != nil {
				return err
			}
		}
		now := e.stamp()
		t.FieldValue = domain.NotApplicable
		t.Notes = reason
		t.Status = domain.TaskCompleted
		t.CompletedDate = &now
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.TaskMarkedNA, t.ProjectID, "task", t.ID, actorID(actor), events.EventPayload{"reason": reason})
	})
	return t, err
}

// ClearNotApplicable reverses the N/A override. Admin only. The task goes
// back to pending with no value, notes or attachment.
func (e Engine) ClearNotApplicable(ctx context.Context, actor auth.Actor, id string) (domain.Task, error) {
	if err := requireAdmin(actor, "clear N/A"); err != nil {
		return domain.Task{}, err
	}
	var (
		t       domain.Task
		oldBlob string
	)
	err := e.inTx(ctx, "clear task N/A", func(tx *sql.Tx) error {
		var err error
		if t, err = e.loadTask(ctx, tx, id); err != nil {
			return err
		}
		if !t.IsNotApplicable() {
			return invalid("task", "task is not marked N/A")
		}
		if t.FilePath != nil {
			oldBlob = *t.FilePath
		}
		t.FieldValue = ""
		t.Notes = ""
		t.FilePath = nil
		t.Status = domain.TaskPending
		t.CompletedDate = nil
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.TaskClearedNA, t.ProjectID, "task", t.ID, actorID(actor), nil)
	})
	if err != nil {
		return t, err
	}
	e.removeBlob(ctx, oldBlob)
	return t, nil
}

type AddTaskOptions struct {
	PhaseNumber   int    `json:"phase_number" validate:"required,min=1"`
	Title         string `json:"title" validate:"required"`
	Description   string `json:"description,omitempty"`
	FieldType     string `json:"field_type" validate:"required"`
	Category      string `json:"category,omitempty"`
	DefaultRoleID string `json:"default_role_id,omitempty"`
	// ProjectID also instantiates the task in that project.
	ProjectID string `json:"project_id,omitempty"`
}

type AddedTask struct {
	Template domain.TaskTemplate `json:"template"`
	Task     *domain.Task        `json:"task,omitempty"`
	Created  bool                `json:"created"`
}

// AddTaskToPhase upserts a template by (phase, title) and optionally adds it
// to one project. Admin only.
func (e Engine) AddTaskToPhase(ctx context.Context, actor auth.Actor, opts AddTaskOptions) (AddedTask, error) {
	if err := requireAdmin(actor, "add tasks to a phase"); err != nil {
		return AddedTask{}, err
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if err := check(opts); err != nil {
		return AddedTask{}, err
	}
	if _, ok := e.catalog().Phase(opts.PhaseNumber); !ok {
		return AddedTask{}, invalid("phase_number", "unknown phase %d", opts.PhaseNumber)
	}
	if !field.Valid(opts.FieldType) {
		return AddedTask{}, invalid("field_type", "unknown field type %q", opts.FieldType)
	}
	var res AddedTask
	err := e.inTx(ctx, "add task to phase", func(tx *sql.Tx) error {
		if opts.DefaultRoleID != "" {
			if _, err := e.Repo.GetRole(ctx, tx, opts.DefaultRoleID); err != nil {
				return notFound("role", opts.DefaultRoleID, err)
			}
		}
		now := e.stamp()
		tpl := domain.TaskTemplate{
			PhaseNumber: opts.PhaseNumber,
			Title:       opts.Title,
			Description: strings.TrimSpace(opts.Description),
			FieldType:   opts.FieldType,
			Category:    strings.TrimSpace(opts.Category),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if opts.DefaultRoleID != "" {
			role := opts.DefaultRoleID
			tpl.DefaultRoleID = &role
		}
		existing, err := e.Repo.GetTemplate(ctx, tx, opts.PhaseNumber, opts.Title)
		switch {
		case err == nil:
			tpl.Position = existing.Position
		case errors.Is(err, repo.ErrNotFound):
			if tpl.Position, err = e.Repo.NextTemplatePosition(ctx, tx, opts.PhaseNumber); err != nil {
				return err
			}
		default:
			return err
		}
		if err := e.Repo.UpsertTemplate(ctx, tx, tpl); err != nil {
			return err
		}
		if res.Template, err = e.Repo.GetTemplate(ctx, tx, opts.PhaseNumber, opts.Title); err != nil {
			return err
		}
		if err := e.journal().Append(ctx, tx, events.TemplateUpserted, opts.ProjectID, "template", fmt.Sprintf("%d/%s", tpl.PhaseNumber, tpl.Title), actorID(actor), events.EventPayload{
			"field_type": tpl.FieldType,
			"role_id":    opts.DefaultRoleID,
		}); err != nil {
			return err
		}
		if opts.ProjectID == "" {
			return nil
		}
		if _, err := e.Repo.GetProject(ctx, tx, opts.ProjectID); err != nil {
			return notFound("project", opts.ProjectID, err)
		}
		inst := e.instantiate(opts.ProjectID, res.Template, now)
		if res.Created, err = e.Repo.InsertTask(ctx, tx, inst); err != nil {
			return err
		}
		t, err := e.loadTask(ctx, tx, inst.ID)
		if err != nil {
			return err
		}
		res.Task = &t
		if !res.Created {
			return nil
		}
		if _, err := e.recomputeTx(ctx, tx, opts.ProjectID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.TaskAdded, opts.ProjectID, "task", t.ID, actorID(actor), events.EventPayload{
			"phase": t.PhaseNumber,
			"title": t.Title,
		})
	})
	return res, err
}

// DeleteTask hard-deletes a task instance. Admin only, and the caller must
// confirm explicitly.
func (e Engine) DeleteTask(ctx context.Context, actor auth.Actor, id string, confirm bool) error {
	if err := requireAdmin(actor, "delete tasks"); err != nil {
		return err
	}
	if !confirm {
		return invalid("confirm", "deleting a task needs explicit confirmation")
	}
	var blob string
	err := e.inTx(ctx, "delete task", func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.FilePath != nil {
			blob = *t.FilePath
		}
		if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
			return err
		}
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.TaskDeleted, t.ProjectID, "task", t.ID, actorID(actor), events.EventPayload{
			"phase": t.PhaseNumber,
			"title": t.Title,
		})
	})
	if err != nil {
		return err
	}
	e.removeBlob(ctx, blob)
	return nil
}
