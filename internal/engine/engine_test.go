package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"propline/internal/catalog"
	"propline/internal/config"
	"propline/internal/db"
	"propline/internal/domain"
	"propline/internal/engine"
	"propline/internal/engine/auth"
	"propline/internal/events"
	"propline/internal/migrate"
	"propline/internal/notify"
	"propline/internal/repo"
)

var (
	admin = auth.Actor{ID: "u-admin", Name: "Ada", Admin: true}
	staff = auth.Actor{ID: "u-staff", Name: "Sam"}
	now   = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
)

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

type memFiles struct {
	mu    sync.Mutex
	blobs map[string][]byte
	seq   int
}

func (m *memFiles) Put(_ context.Context, taskID, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p := fmt.Sprintf("tasks/%s/%d-%s", taskID, m.seq, filename)
	m.blobs[p] = data
	return p, nil
}

func (m *memFiles) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, p)
	return nil
}

func (m *memFiles) SignedURL(p string, _ time.Duration) (string, error) {
	return "https://files.test/" + p, nil
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Notes  *recorder
	Files  *memFiles
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := &recorder{}
	files := &memFiles{blobs: map[string][]byte{}}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }
	eng.Logger = log.New(io.Discard, "", 0)
	eng.Notifier = rec
	eng.Files = files
	return testEnv{Engine: eng, Ctx: context.Background(), Notes: rec, Files: files}
}

func (env testEnv) project(t *testing.T) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, admin, engine.CreateProjectOptions{PropertyID: "prop-1", OwnerID: "owner-1", PropertyAddress: "12 Harbor Rd"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) task(t *testing.T, projectID, title string) domain.Task {
	t.Helper()
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, nil, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Title == title {
			return task
		}
	}
	t.Fatalf("task %q not found", title)
	return domain.Task{}
}

func (env testEnv) users(t *testing.T) {
	t.Helper()
	ctx := env.Ctx
	if _, err := env.Engine.UpsertRole(ctx, admin, engine.RoleOptions{ID: "ops", Name: "Operations"}); err != nil {
		t.Fatalf("role: %v", err)
	}
	for _, u := range []engine.UserOptions{
		{ID: "u-admin", Name: "Ada", Admin: true},
		{ID: "u-staff", Name: "Sam", Email: "sam@example.com"},
		{ID: "u-ops", Name: "Olive", Email: "olive@example.com", RoleID: "ops"},
	} {
		if _, err := env.Engine.UpsertUser(ctx, admin, u); err != nil {
			t.Fatalf("user %s: %v", u.ID, err)
		}
	}
	if _, err := env.Engine.UpsertRole(ctx, admin, engine.RoleOptions{ID: "ops", Name: "Operations", PrimaryUserID: "u-ops"}); err != nil {
		t.Fatalf("role primary: %v", err)
	}
}

func str(s string) *string { return &s }

func isValidation(err error) bool {
	var v engine.ValidationError
	return errors.As(err, &v)
}

func isForbidden(err error) bool {
	var a engine.AuthorizationError
	return errors.As(err, &a)
}

func TestCreateProjectSeedsCatalog(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	if p.Progress != 0 || p.Status != domain.ProjectPending {
		t.Fatalf("unexpected initial project %+v", p)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, nil, repo.TaskFilters{ProjectID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != catalog.Default().TaskCount() {
		t.Fatalf("expected %d tasks, got %d", catalog.Default().TaskCount(), len(tasks))
	}
	phases, err := env.Engine.ListPhasesWithProgress(env.Ctx, staff, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != catalog.PhaseCount {
		t.Fatalf("expected %d phases, got %d", catalog.PhaseCount, len(phases))
	}
	completable := 0
	for _, ph := range phases {
		completable += ph.Completable
		if ph.CompletionPct != 0 {
			t.Fatalf("phase %d should start at 0%%", ph.Number)
		}
	}
	if completable != 42 {
		t.Fatalf("expected 42 completable tasks, got %d", completable)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, admin, engine.CreateProjectOptions{PropertyID: "prop-2"}); !isValidation(err) {
		t.Fatalf("expected validation error for missing owner, got %v", err)
	}
}

func quarterCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	var b strings.Builder
	b.WriteString("phases:\n  - number: 1\n    title: Setup\n    tasks:\n")
	for i := 1; i <= 40; i++ {
		fmt.Fprintf(&b, "      - {title: T%02d, type: text}\n", i)
	}
	for n := 2; n <= catalog.PhaseCount; n++ {
		fmt.Fprintf(&b, "  - number: %d\n    title: P%d\n    tasks:\n      - {title: Header, type: section_header}\n", n, n)
	}
	c, err := catalog.Load([]byte(b.String()))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func TestTenOfFortyIsAQuarter(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Catalog = quarterCatalog(t)
	p := env.project(t)
	var last engine.FieldUpdate
	for i := 1; i <= 10; i++ {
		task := env.task(t, p.ID, fmt.Sprintf("T%02d", i))
		res, err := env.Engine.UpdateTaskField(env.Ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("done")})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if res.Status != domain.TaskCompleted || res.Task.CompletedDate == nil {
			t.Fatalf("task %d not completed: %+v", i, res.Task)
		}
		last = res
	}
	if last.ProjectProgress.Before != 22.5 || last.ProjectProgress.After != 25 {
		t.Fatalf("unexpected progress delta %+v", last.ProjectProgress)
	}
	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 25 || got.Status != domain.ProjectInProgress {
		t.Fatalf("expected 25%% in-progress, got %v %s", got.Progress, got.Status)
	}
}

func TestInvalidValueLeavesTaskUntouched(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	task := env.task(t, p.ID, "Agreement start date")
	_, err := env.Engine.UpdateTaskField(env.Ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("next tuesday")})
	if !isValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	after := env.task(t, p.ID, "Agreement start date")
	if after.FieldValue != "" || after.Status != domain.TaskPending {
		t.Fatalf("task changed after rejected update: %+v", after)
	}
	header := env.task(t, p.ID, "Access")
	if _, err := env.Engine.UpdateTaskField(env.Ctx, staff, engine.UpdateFieldOptions{TaskID: header.ID, Value: str("x")}); !isValidation(err) {
		t.Fatalf("expected section header rejection, got %v", err)
	}
	if _, err := env.Engine.UpdateTaskField(env.Ctx, staff, engine.UpdateFieldOptions{TaskID: "missing", Value: str("x")}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkCompleteNeedsEvidence(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	task := env.task(t, p.ID, "Lockbox installed")
	if _, err := env.Engine.UpdateTaskField(env.Ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, MarkComplete: true}); !isValidation(err) {
		t.Fatalf("expected evidence error, got %v", err)
	}
	res, err := env.Engine.UpdateTaskField(env.Ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("false"), MarkComplete: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("expected forced completion, got %s", res.Status)
	}
}

func TestReadOnlyLock(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	task := env.task(t, p.ID, "Owner legal name")
	ctx := env.Ctx
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("Jane Doe")}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("Jane Doe")}); err != nil {
		t.Fatalf("unchanged value should pass: %v", err)
	}
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("John Doe"), EditRequested: true}); !isForbidden(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := env.Engine.UpdateTaskField(ctx, admin, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("John Doe")}); !isValidation(err) {
		t.Fatalf("expected admin without edit request to be rejected, got %v", err)
	}
	res, err := env.Engine.UpdateTaskField(ctx, admin, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("John Doe"), EditRequested: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Task.FieldValue != "John Doe" {
		t.Fatalf("admin edit not applied: %q", res.Task.FieldValue)
	}
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Notes: str("verified by phone")}); err != nil {
		t.Fatalf("notes stay editable: %v", err)
	}
}

func TestCanEditField(t *testing.T) {
	cases := []struct {
		value       string
		admin, edit bool
		want        bool
	}{
		{"", false, false, true},
		{"  ", false, false, true},
		{"x", false, true, false},
		{"x", true, false, false},
		{"x", true, true, true},
	}
	for _, c := range cases {
		if got := engine.CanEditField(c.value, c.admin, c.edit); got != c.want {
			t.Fatalf("CanEditField(%q,%v,%v)=%v", c.value, c.admin, c.edit, got)
		}
	}
}

func overdue(t *testing.T, env testEnv, id, due string) {
	t.Helper()
	task, err := env.Engine.Repo.GetTask(env.Ctx, nil, id)
	if err != nil {
		t.Fatal(err)
	}
	task.DueDate = str(due)
	task.OriginalDueDate = str(due)
	if err := env.Engine.Repo.UpdateTask(env.Ctx, nil, task); err != nil {
		t.Fatal(err)
	}
}

func TestRescheduleOverdueCeiling(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	task := env.task(t, p.ID, "Door code")
	overdue(t, env, task.ID, "2026-03-05")
	ctx := env.Ctx

	_, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-04-14", Reason: "owner travelling"})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "due_date" {
		t.Fatalf("expected due_date validation error, got %v", err)
	}
	logs, err := env.Engine.ListRescheduleLogs(ctx, task.ID, "")
	if err != nil || len(logs) != 0 {
		t.Fatalf("rejected reschedule left logs: %v %v", logs, err)
	}

	entry, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-03-20", Reason: "locksmith delayed"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.DaysDelayed != 15 || entry.PreviousDueDate == nil || *entry.PreviousDueDate != "2026-03-05" {
		t.Fatalf("unexpected log entry %+v", entry)
	}
	after := env.task(t, p.ID, "Door code")
	if after.DueDate == nil || *after.DueDate != "2026-03-20" || *after.OriginalDueDate != "2026-03-05" {
		t.Fatalf("unexpected dates %v %v", after.DueDate, after.OriginalDueDate)
	}
	if after.Status != domain.TaskPending {
		t.Fatalf("reschedule must not change status, got %s", after.Status)
	}
	if !strings.Contains(after.Notes, "locksmith delayed") {
		t.Fatalf("note not appended: %q", after.Notes)
	}
}

func TestRescheduleAuditCompleteness(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	task := env.task(t, p.ID, "Photo shoot date")
	ctx := env.Ctx
	for _, d := range []string{"2026-03-15", "2026-03-29"} {
		if _, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: d, Reason: "photographer availability"}); err != nil {
			t.Fatalf("reschedule %s: %v", d, err)
		}
	}
	if _, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-04-01"}); !isValidation(err) {
		t.Fatalf("expected missing reason error, got %v", err)
	}
	if _, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-03-01", Reason: "oops"}); !isValidation(err) {
		t.Fatalf("expected past date error, got %v", err)
	}
	logs, err := env.Engine.ListRescheduleLogs(ctx, "", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].PreviousDueDate != nil || logs[1].DaysDelayed != 14 || logs[1].ActorName != "Sam" {
		t.Fatalf("unexpected logs %+v", logs)
	}
	after := env.task(t, p.ID, "Photo shoot date")
	if n := strings.Count(after.Notes, "\n") + 1; n != 2 {
		t.Fatalf("expected 2 note lines, got %d: %q", n, after.Notes)
	}
}

func TestNotApplicableLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	task := env.task(t, p.ID, "Liability insurance certificate")
	if _, err := env.Engine.MarkNotApplicable(ctx, staff, task.ID, " "); !isValidation(err) {
		t.Fatalf("expected reason required, got %v", err)
	}
	marked, err := env.Engine.MarkNotApplicable(ctx, staff, task.ID, "covered by owner's umbrella policy")
	if err != nil {
		t.Fatal(err)
	}
	if marked.Status != domain.TaskCompleted || !marked.IsNotApplicable() {
		t.Fatalf("unexpected N/A task %+v", marked)
	}
	proj, _ := env.Engine.GetProject(ctx, p.ID)
	if proj.Progress == 0 || proj.Status != domain.ProjectInProgress {
		t.Fatalf("N/A should count toward progress: %+v", proj)
	}
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Notes: str("x")}); !isValidation(err) {
		t.Fatalf("N/A task should reject edits, got %v", err)
	}
	if _, err := env.Engine.ClearNotApplicable(ctx, staff, task.ID); !isForbidden(err) {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	cleared, err := env.Engine.ClearNotApplicable(ctx, admin, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cleared.Status != domain.TaskPending || cleared.FieldValue != "" || cleared.Notes != "" || cleared.CompletedDate != nil {
		t.Fatalf("unexpected cleared task %+v", cleared)
	}

	agreement := env.task(t, p.ID, "Management agreement signed")
	if _, err := env.Engine.AttachTaskFile(ctx, staff, engine.AttachFileOptions{TaskID: agreement.ID, Filename: "agreement.pdf"}, strings.NewReader("%PDF")); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MarkNotApplicable(ctx, admin, agreement.ID, "not installed"); err != nil {
		t.Fatal(err)
	}
	reopened, err := env.Engine.ClearNotApplicable(ctx, admin, agreement.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Status != domain.TaskPending || reopened.FilePath != nil || reopened.Notes != "" || reopened.CompletedDate != nil {
		t.Fatalf("cleared file task must be pending and empty, got %+v", reopened)
	}
	if stored := env.task(t, p.ID, "Management agreement signed"); stored.Status != domain.TaskPending || stored.FilePath != nil {
		t.Fatalf("stored file task not reset: %+v", stored)
	}
	if len(env.Files.blobs) != 0 {
		t.Fatalf("attachment of cleared task not removed: %v", env.Files.blobs)
	}

	filled := env.task(t, p.ID, "Owner legal name")
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: filled.ID, Value: str("Jane Doe")}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MarkNotApplicable(ctx, staff, filled.ID, "company owned"); !isForbidden(err) {
		t.Fatalf("filled task N/A needs admin, got %v", err)
	}
	if _, err := env.Engine.MarkNotApplicable(ctx, admin, filled.ID, "company owned"); err != nil {
		t.Fatal(err)
	}
}

func TestAssignmentPrecedence(t *testing.T) {
	env := newTestEnv(t)
	env.users(t)
	p := env.project(t)
	ctx := env.Ctx
	if err := env.Engine.SetPhaseRole(ctx, admin, 1, "ops"); err != nil {
		t.Fatal(err)
	}
	task := env.task(t, p.ID, "Owner phone")
	a, err := env.Engine.ResolveAssignee(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.UserID != "u-ops" || a.Source != "phase_default" || a.Name != "Olive" {
		t.Fatalf("expected phase default, got %+v", a)
	}
	if _, err := env.Engine.AssignTask(ctx, admin, engine.AssignOptions{TaskID: task.ID, UserID: str("u-staff")}); err != nil {
		t.Fatal(err)
	}
	a, _ = env.Engine.ResolveAssignee(ctx, task.ID)
	if a.UserID != "u-staff" || a.Source != "assigned" {
		t.Fatalf("explicit assignment must win, got %+v", a)
	}
	if len(env.Notes.msgs) != 1 || env.Notes.msgs[0].To.ID != "u-staff" || env.Notes.msgs[0].Event != notify.EventAssigned {
		t.Fatalf("expected one assignment notification, got %+v", env.Notes.msgs)
	}
	if _, err := env.Engine.AssignTask(ctx, admin, engine.AssignOptions{TaskID: task.ID}); err != nil {
		t.Fatal(err)
	}
	a, _ = env.Engine.ResolveAssignee(ctx, task.ID)
	if a.Source != "phase_default" {
		t.Fatalf("cleared assignment should fall back, got %+v", a)
	}
	other := env.task(t, p.ID, "Door code")
	a, _ = env.Engine.ResolveAssignee(ctx, other.ID)
	if a.Source != "unassigned" || a.UserID != "" {
		t.Fatalf("expected unassigned, got %+v", a)
	}
	if _, err := env.Engine.AssignTask(ctx, admin, engine.AssignOptions{TaskID: task.ID, UserID: str("nobody")}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown user error, got %v", err)
	}
}

func TestSaveAsTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.users(t)
	first := env.project(t)
	ctx := env.Ctx
	task := env.task(t, first.ID, "Door code")
	if _, err := env.Engine.AssignTask(ctx, staff, engine.AssignOptions{TaskID: task.ID, UserID: str("u-ops"), SaveAsTemplate: true}); !isForbidden(err) {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	if _, err := env.Engine.AssignTask(ctx, admin, engine.AssignOptions{TaskID: task.ID, UserID: str("u-staff"), SaveAsTemplate: true}); !isValidation(err) {
		t.Fatalf("user without primary role must be rejected, got %v", err)
	}
	if _, err := env.Engine.AssignTask(ctx, admin, engine.AssignOptions{TaskID: task.ID, UserID: str("u-ops"), SaveAsTemplate: true}); err != nil {
		t.Fatal(err)
	}
	templates, err := env.Engine.ListTemplates(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, tpl := range templates {
		if tpl.Title == "Door code" {
			count++
			if tpl.DefaultRoleID == nil || *tpl.DefaultRoleID != "ops" {
				t.Fatalf("template role not saved: %+v", tpl)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected one template row, got %d", count)
	}

	if _, err := env.Engine.UpsertRole(ctx, admin, engine.RoleOptions{ID: "leasing", Name: "Leasing"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertUser(ctx, admin, engine.UserOptions{ID: "u-lease", Name: "Lena", RoleID: "leasing"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertRole(ctx, admin, engine.RoleOptions{ID: "leasing", Name: "Leasing", PrimaryUserID: "u-lease"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignTask(ctx, admin, engine.AssignOptions{TaskID: task.ID, UserID: str("u-lease"), SaveAsTemplate: true}); err != nil {
		t.Fatal(err)
	}
	templates, err = env.Engine.ListTemplates(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	var saved []domain.TaskTemplate
	for _, tpl := range templates {
		if tpl.Title == "Door code" {
			saved = append(saved, tpl)
		}
	}
	if len(saved) != 1 || saved[0].DefaultRoleID == nil || *saved[0].DefaultRoleID != "leasing" {
		t.Fatalf("second save should overwrite the single row, got %+v", saved)
	}
	second, err := env.Engine.CreateProject(ctx, admin, engine.CreateProjectOptions{PropertyID: "prop-2", OwnerID: "owner-2"})
	if err != nil {
		t.Fatal(err)
	}
	next := env.task(t, second.ID, "Door code")
	if next.AssignedRoleID == nil || *next.AssignedRoleID != "leasing" || next.AssignedToUUID != nil {
		t.Fatalf("new project should inherit the role only: %+v", next)
	}
	a, _ := env.Engine.ResolveAssignee(ctx, next.ID)
	if a.UserID != "u-lease" || a.Source != "phase_default" {
		t.Fatalf("expected role default, got %+v", a)
	}
}

func TestBackfillRestoresMissingPhase(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	if _, err := env.Engine.DB.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=? AND phase_number=3`, p.ID); err != nil {
		t.Fatal(err)
	}
	phases, err := env.Engine.ListPhasesWithProgress(ctx, staff, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(phases[2].Tasks); got != 5 {
		t.Fatalf("expected phase 3 backfilled with 5 tasks, got %d", got)
	}
	n, err := env.Engine.BackfillPhases(ctx, staff, p.ID)
	if err != nil || n != 0 {
		t.Fatalf("second backfill should be a no-op: %d %v", n, err)
	}
	if _, err := env.Engine.BackfillPhases(ctx, staff, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddTaskToPhase(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	opts := engine.AddTaskOptions{PhaseNumber: 2, Title: "Pool service contact", FieldType: "phone", ProjectID: p.ID}
	if _, err := env.Engine.AddTaskToPhase(ctx, staff, opts); !isForbidden(err) {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	res, err := env.Engine.AddTaskToPhase(ctx, admin, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created || res.Task == nil || res.Task.PhaseNumber != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	again, err := env.Engine.AddTaskToPhase(ctx, admin, opts)
	if err != nil {
		t.Fatal(err)
	}
	if again.Created {
		t.Fatalf("second add must not duplicate the task")
	}
	templates, _ := env.Engine.ListTemplates(ctx, 2)
	n := 0
	for _, tpl := range templates {
		if tpl.Title == opts.Title {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one template row, got %d", n)
	}
	bad := opts
	bad.FieldType = "signature"
	if _, err := env.Engine.AddTaskToPhase(ctx, admin, bad); !isValidation(err) {
		t.Fatalf("expected field type error, got %v", err)
	}
}

func TestDeleteTaskNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	task := env.task(t, p.ID, "Trash pickup day")
	if err := env.Engine.DeleteTask(ctx, staff, task.ID, true); !isForbidden(err) {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	if err := env.Engine.DeleteTask(ctx, admin, task.ID, false); !isValidation(err) {
		t.Fatalf("expected confirmation error, got %v", err)
	}
	if err := env.Engine.DeleteTask(ctx, admin, task.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetTask(ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected deleted task, got %v", err)
	}
}

func TestAttachAndDetachFile(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	task := env.task(t, p.ID, "Management agreement signed")
	got, err := env.Engine.AttachTaskFile(ctx, staff, engine.AttachFileOptions{TaskID: task.ID, Filename: "agreement.pdf"}, strings.NewReader("%PDF"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskCompleted || got.FilePath == nil || got.FieldValue != "agreement.pdf" {
		t.Fatalf("unexpected attached task %+v", got)
	}
	link, err := env.Engine.TaskFileURL(ctx, task.ID, 0)
	if err != nil || !strings.HasSuffix(link, *got.FilePath) {
		t.Fatalf("unexpected url %q %v", link, err)
	}
	if _, err := env.Engine.DetachTaskFile(ctx, staff, task.ID, true); !isForbidden(err) {
		t.Fatalf("attached file is locked for staff, got %v", err)
	}
	detached, err := env.Engine.DetachTaskFile(ctx, admin, task.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if detached.Status != domain.TaskPending || detached.FilePath != nil {
		t.Fatalf("unexpected detached task %+v", detached)
	}
	if len(env.Files.blobs) != 0 {
		t.Fatalf("blob not removed: %v", env.Files.blobs)
	}
	text := env.task(t, p.ID, "Owner legal name")
	if _, err := env.Engine.AttachTaskFile(ctx, staff, engine.AttachFileOptions{TaskID: text.ID, Filename: "x.pdf"}, strings.NewReader("x")); !isValidation(err) {
		t.Fatalf("expected non-file field rejection, got %v", err)
	}
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t)
	env.users(t)
	p := env.project(t)
	ctx := env.Ctx
	task := env.task(t, p.ID, "Cleaning fee")
	if _, err := env.Engine.AssignTask(ctx, admin, engine.AssignOptions{TaskID: task.ID, UserID: str("u-staff")}); err != nil {
		t.Fatal(err)
	}
	env.Notes.err = errors.New("smtp down")
	entry, err := env.Engine.RescheduleTask(ctx, admin, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-03-12", Reason: "waiting on owner"})
	if err != nil {
		t.Fatalf("notification failure leaked: %v", err)
	}
	if entry.ID == "" {
		t.Fatalf("missing log entry")
	}
	last := env.Notes.msgs[len(env.Notes.msgs)-1]
	if last.Event != notify.EventRescheduled || last.To.ID != "u-staff" {
		t.Fatalf("unexpected notification %+v", last)
	}
}

func TestOverdueTasksGroupedByAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.users(t)
	p := env.project(t)
	ctx := env.Ctx
	if err := env.Engine.SetPhaseRole(ctx, admin, 1, "ops"); err != nil {
		t.Fatal(err)
	}
	overdue(t, env, env.task(t, p.ID, "Owner phone").ID, "2026-03-01")
	overdue(t, env, env.task(t, p.ID, "Owner legal name").ID, "2026-03-09")
	overdue(t, env, env.task(t, p.ID, "Door code").ID, "2026-03-01")
	overdue(t, env, env.task(t, p.ID, "Owner W-9 received").ID, "2026-03-10")
	groups, err := env.Engine.OverdueTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].User.ID != "u-ops" || len(groups[0].Tasks) != 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}
}

func TestAPIKeyMapsToActor(t *testing.T) {
	env := newTestEnv(t)
	env.users(t)
	ctx := env.Ctx
	if _, _, err := env.Engine.CreateAPIKey(ctx, staff, "u-staff", "ci"); !isForbidden(err) {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	plain, key, err := env.Engine.CreateAPIKey(ctx, admin, "u-staff", "ci")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plain, engine.APIKeyPrefix) || key.KeyHash == plain {
		t.Fatalf("unexpected key %q %+v", plain, key)
	}
	actor, err := env.Engine.ActorForAPIKey(ctx, plain)
	if err != nil || actor.ID != "u-staff" || actor.Admin {
		t.Fatalf("unexpected actor %+v %v", actor, err)
	}
	if _, err := env.Engine.ActorForAPIKey(ctx, "pl_wrong"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown key, got %v", err)
	}
}

func TestRescheduleRollsBackWhenTaskUpdateFails(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	task := env.task(t, p.ID, "Door code")
	overdue(t, env, task.ID, "2026-03-05")
	if _, err := env.Engine.DB.ExecContext(ctx, `CREATE TRIGGER block_task_updates BEFORE UPDATE ON tasks BEGIN SELECT RAISE(ABORT, 'task updates blocked'); END`); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-03-20", Reason: "locksmith delayed"}); err == nil {
		t.Fatalf("expected the blocked task update to fail the reschedule")
	}
	var n int
	if err := env.Engine.DB.QueryRowContext(ctx, `SELECT count(*) FROM reschedule_logs WHERE task_id=?`, task.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("failed reschedule left %d log rows", n)
	}
	after := env.task(t, p.ID, "Door code")
	if after.DueDate == nil || *after.DueDate != "2026-03-05" || after.Notes != "" {
		t.Fatalf("task changed by a failed reschedule: %+v", after)
	}
}

func TestRescheduleNoteIsNotCompletionEvidence(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	task := env.task(t, p.ID, "Lockbox installed")
	if _, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-03-20", Reason: "vendor backlog"}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("false")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.TaskPending {
		t.Fatalf("unticked checkbox with only an audit note must stay pending, got %s", res.Status)
	}
	if !strings.Contains(res.Task.Notes, "vendor backlog") {
		t.Fatalf("audit note lost: %q", res.Task.Notes)
	}

	code := env.task(t, p.ID, "Door code")
	if _, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: code.ID, NewDueDate: "2026-03-20", Reason: "vendor backlog"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: code.ID, MarkComplete: true}); !isValidation(err) {
		t.Fatalf("audit note alone must not satisfy mark complete, got %v", err)
	}
}

func TestRescheduleRecordsDelayBase(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	task, err := env.Engine.Repo.GetTask(ctx, nil, env.task(t, p.ID, "Photo shoot date").ID)
	if err != nil {
		t.Fatal(err)
	}
	task.OriginalDueDate = str("2026-03-12")
	if err := env.Engine.Repo.UpdateTask(ctx, nil, task); err != nil {
		t.Fatal(err)
	}
	entry, err := env.Engine.RescheduleTask(ctx, staff, engine.RescheduleOptions{TaskID: task.ID, NewDueDate: "2026-03-15", Reason: "photographer booked"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.PreviousDueDate != nil || entry.DaysDelayed != 3 || entry.BaseDueDate == nil || *entry.BaseDueDate != "2026-03-12" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	logs, err := env.Engine.ListRescheduleLogs(ctx, task.ID, "")
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs %v err %v", logs, err)
	}
	if logs[0].BaseDueDate == nil || *logs[0].BaseDueDate != "2026-03-12" {
		t.Fatalf("delay base not stored: %+v", logs[0])
	}
	after := env.task(t, p.ID, "Photo shoot date")
	if after.OriginalDueDate == nil || *after.OriginalDueDate != "2026-03-12" {
		t.Fatalf("original due date overwritten: %v", after.OriginalDueDate)
	}
}

func TestListEventsFiltersJournal(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	ctx := env.Ctx
	task := env.task(t, p.ID, "Door code")
	if _, err := env.Engine.UpdateTaskField(ctx, staff, engine.UpdateFieldOptions{TaskID: task.ID, Value: str("4821")}); err != nil {
		t.Fatal(err)
	}
	created, err := env.Engine.ListEvents(ctx, repo.EventFilters{ProjectID: p.ID, Type: events.ProjectCreated})
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0].EntityID != p.ID {
		t.Fatalf("expected one project.created event, got %+v", created)
	}
	updates, err := env.Engine.ListEvents(ctx, repo.EventFilters{EntityKind: "task", EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) == 0 || updates[0].Type != events.TaskUpdated || updates[0].ActorID != staff.ID {
		t.Fatalf("unexpected task events %+v", updates)
	}
}
