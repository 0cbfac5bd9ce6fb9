// Package assign resolves who is responsible for an onboarding task.
package assign

import (
	"context"
	"log"

	"propline/internal/domain"
)

type Source string

const (
	SourceExplicit     Source = "assigned"
	SourcePhaseDefault Source = "phase_default"
	SourceUnassigned   Source = "unassigned"
)

// Directory supplies role defaults. ok=false means no mapping exists.
type Directory interface {
	PhaseRole(ctx context.Context, phase int) (roleID string, ok bool, err error)
	PrimaryUser(ctx context.Context, roleID string) (userID string, ok bool, err error)
}

type Assignment struct {
	UserID string `json:"user_id,omitempty"`
	RoleID string `json:"role_id,omitempty"`
	Source Source `json:"source" enum:"assigned,phase_default,unassigned"`
}

func (a Assignment) Assigned() bool { return a.UserID != "" }

type Resolver struct {
	Dir    Directory
	Logger *log.Logger
}

func (r Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Resolve applies explicit assignment, then the role default, then gives up.
// The role default is the task's own template role when present, otherwise
// the phase role. Lookup failures degrade to unassigned.
func (r Resolver) Resolve(ctx context.Context, t domain.Task) Assignment {
	if t.AssignedToUUID != nil && *t.AssignedToUUID != "" {
		return Assignment{UserID: *t.AssignedToUUID, Source: SourceExplicit}
	}
	if r.Dir == nil {
		return Assignment{Source: SourceUnassigned}
	}
	roleID := ""
	if t.AssignedRoleID != nil {
		roleID = *t.AssignedRoleID
	}
	if roleID == "" {
		id, ok, err := r.Dir.PhaseRole(ctx, t.PhaseNumber)
		if err != nil {
			r.logger().Printf("[assign] phase %d role lookup failed: %v", t.PhaseNumber, err)
			return Assignment{Source: SourceUnassigned}
		}
		if !ok {
			return Assignment{Source: SourceUnassigned}
		}
		roleID = id
	}
	userID, ok, err := r.Dir.PrimaryUser(ctx, roleID)
	if err != nil {
		r.logger().Printf("[assign] primary user lookup for role %s failed: %v", roleID, err)
		return Assignment{RoleID: roleID, Source: SourceUnassigned}
	}
	if !ok || userID == "" {
		return Assignment{RoleID: roleID, Source: SourceUnassigned}
	}
	return Assignment{UserID: userID, RoleID: roleID, Source: SourcePhaseDefault}
}
