package assign

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"propline/internal/domain"
)

type staticDir struct {
	phaseRoles map[int]string
	primary    map[string]string
	err        error
}

func (d staticDir) PhaseRole(_ context.Context, phase int) (string, bool, error) {
	if d.err != nil {
		return "", false, d.err
	}
	r, ok := d.phaseRoles[phase]
	return r, ok, nil
}

func (d staticDir) PrimaryUser(_ context.Context, roleID string) (string, bool, error) {
	u, ok := d.primary[roleID]
	return u, ok, nil
}

func strPtr(s string) *string { return &s }

func quietResolver(dir Directory) Resolver {
	return Resolver{Dir: dir, Logger: log.New(io.Discard, "", 0)}
}

func TestExplicitAssignmentWins(t *testing.T) {
	r := quietResolver(staticDir{
		phaseRoles: map[int]string{1: "ops"},
		primary:    map[string]string{"ops": "u-ops"},
	})
	task := domain.Task{PhaseNumber: 1, AssignedToUUID: strPtr("u-jane"), AssignedRoleID: strPtr("ops")}
	got := r.Resolve(context.Background(), task)
	if got.UserID != "u-jane" || got.Source != SourceExplicit {
		t.Fatalf("unexpected assignment %+v", got)
	}
}

func TestPhaseDefaultResolvesPrimaryUser(t *testing.T) {
	r := quietResolver(staticDir{
		phaseRoles: map[int]string{2: "ops"},
		primary:    map[string]string{"ops": "u-ops"},
	})
	got := r.Resolve(context.Background(), domain.Task{PhaseNumber: 2})
	if got.UserID != "u-ops" || got.RoleID != "ops" || got.Source != SourcePhaseDefault {
		t.Fatalf("unexpected assignment %+v", got)
	}
}

func TestTemplateRoleBeatsPhaseRole(t *testing.T) {
	r := quietResolver(staticDir{
		phaseRoles: map[int]string{2: "ops"},
		primary:    map[string]string{"ops": "u-ops", "legal": "u-legal"},
	})
	got := r.Resolve(context.Background(), domain.Task{PhaseNumber: 2, AssignedRoleID: strPtr("legal")})
	if got.UserID != "u-legal" || got.Source != SourcePhaseDefault {
		t.Fatalf("unexpected assignment %+v", got)
	}
}

func TestMissingDataIsUnassigned(t *testing.T) {
	cases := []struct {
		name string
		dir  Directory
	}{
		{"no directory", nil},
		{"no phase role", staticDir{}},
		{"role without primary user", staticDir{phaseRoles: map[int]string{1: "ops"}}},
		{"lookup error", staticDir{err: errors.New("db down")}},
	}
	for _, tc := range cases {
		got := quietResolver(tc.dir).Resolve(context.Background(), domain.Task{PhaseNumber: 1})
		if got.Assigned() || got.Source != SourceUnassigned {
			t.Fatalf("%s: expected unassigned, got %+v", tc.name, got)
		}
	}
}
