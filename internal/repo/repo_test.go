package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"propline/internal/db"
	"propline/internal/domain"
	"propline/internal/migrate"
)

const ts = "2026-03-10T12:00:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func strPtr(s string) *string { return &s }

func TestUpsertTemplateKeepsOneRowPerKey(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base := domain.TaskTemplate{PhaseNumber: 3, Title: "Business license", FieldType: "file", Position: 10, CreatedAt: ts, UpdatedAt: ts}
	if err := r.SeedTemplate(ctx, nil, base); err != nil {
		t.Fatalf("seed: %v", err)
	}
	first := base
	first.DefaultRoleID = strPtr("legal")
	second := base
	second.DefaultRoleID = strPtr("ops")
	for _, tpl := range []domain.TaskTemplate{first, second} {
		if err := r.UpsertTemplate(ctx, nil, tpl); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	list, err := r.ListTemplates(ctx, nil, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one template row, got %d", len(list))
	}
	if list[0].DefaultRoleID == nil || *list[0].DefaultRoleID != "ops" {
		t.Fatalf("expected last role to win, got %v", list[0].DefaultRoleID)
	}
	// seeding again must not reset the role
	if err := r.SeedTemplate(ctx, nil, base); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	got, err := r.GetTemplate(ctx, nil, 3, "Business license")
	if err != nil || got.DefaultRoleID == nil || *got.DefaultRoleID != "ops" {
		t.Fatalf("reseed clobbered role: %+v %v", got, err)
	}
}

func TestInsertTaskIgnoresDuplicateKey(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	p := domain.Project{ID: "p1", PropertyID: "prop", OwnerID: "own", Status: domain.ProjectPending, CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertProject(ctx, nil, p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	task := domain.Task{ID: "t1", ProjectID: "p1", PhaseNumber: 1, PhaseTitle: "Setup", Title: "Owner name", FieldType: "text",
		Status: domain.TaskPending, DueDate: strPtr("2026-03-20"), CreatedAt: ts, UpdatedAt: ts}
	created, err := r.InsertTask(ctx, nil, task)
	if err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}
	task.ID = "t2"
	created, err = r.InsertTask(ctx, nil, task)
	if err != nil || created {
		t.Fatalf("duplicate insert: created=%v err=%v", created, err)
	}
	got, err := r.GetTask(ctx, nil, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DueDate == nil || *got.DueDate != "2026-03-20" || got.FilePath != nil {
		t.Fatalf("nullable columns not round-tripped: %+v", got)
	}
	counts, err := r.CountTasksByPhase(ctx, nil, "p1")
	if err != nil || counts[1] != 1 {
		t.Fatalf("counts %v err %v", counts, err)
	}
	if _, err := r.GetTask(ctx, nil, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectoryLookups(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.UpsertRole(ctx, nil, domain.Role{ID: "ops", Name: "Operations"}, ts); err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := r.UpsertUser(ctx, nil, domain.User{ID: "u1", Name: "Ana", RoleID: "ops", CreatedAt: ts}); err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := r.SetPhaseRole(ctx, nil, 2, "ops"); err != nil {
		t.Fatalf("phase role: %v", err)
	}
	dir := Directory{Repo: r}
	role, ok, err := dir.PhaseRole(ctx, 2)
	if err != nil || !ok || role != "ops" {
		t.Fatalf("phase role lookup: %q %v %v", role, ok, err)
	}
	if _, ok, _ := dir.PrimaryUser(ctx, "ops"); ok {
		t.Fatalf("role without primary user should not resolve")
	}
	if err := r.UpsertRole(ctx, nil, domain.Role{ID: "ops", Name: "Operations", PrimaryUserID: "u1"}, ts); err != nil {
		t.Fatalf("role: %v", err)
	}
	user, ok, err := dir.PrimaryUser(ctx, "ops")
	if err != nil || !ok || user != "u1" {
		t.Fatalf("primary user lookup: %q %v %v", user, ok, err)
	}
	if _, ok, err := dir.PhaseRole(ctx, 9); ok || err != nil {
		t.Fatalf("unmapped phase: ok=%v err=%v", ok, err)
	}
}

func TestRescheduleLogsInsideTransaction(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	l := domain.RescheduleLog{ID: "l1", TaskID: "t1", ProjectID: "p1", NewDueDate: "2026-03-20", Reason: "late", ActorID: "u1", CreatedAt: ts}
	if err := r.InsertRescheduleLog(ctx, tx, l); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.Fatalf("rollback: %v", err)
	}
	logs, err := r.ListRescheduleLogs(ctx, nil, "t1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("rolled back log entry is visible")
	}
}
