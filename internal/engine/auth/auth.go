// Package auth carries the acting identity through the engine.
package auth

import (
	"context"
	"fmt"
)

// ForbiddenError indicates a privileged action attempted by a regular actor.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("admin privilege required to %s", e.Action)
}

// Actor is who performs an operation.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// DisplayName falls back to the id when no name is known.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// RequireAdmin returns ForbiddenError unless the actor is privileged.
func (a Actor) RequireAdmin(action string) error {
	if a.Admin {
		return nil
	}
	return ForbiddenError{Action: action}
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok && a.ID != ""
}
