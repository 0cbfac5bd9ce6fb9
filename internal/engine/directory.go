package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"propline/internal/domain"
	"propline/internal/engine/auth"
	"propline/internal/events"
	"propline/internal/repo"
)

type UserOptions struct {
	ID             string `json:"id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	RoleID         string `json:"role_id,omitempty"`
	Admin          bool   `json:"admin,omitempty"`
}

// UpsertUser creates or updates a user. Admin only.
func (e Engine) UpsertUser(ctx context.Context, actor auth.Actor, opts UserOptions) (domain.User, error) {
	if err := requireAdmin(actor, "manage users"); err != nil {
		return domain.User{}, err
	}
	if err := check(opts); err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:             strings.TrimSpace(opts.ID),
		Name:           strings.TrimSpace(opts.Name),
		Email:          strings.TrimSpace(opts.Email),
		Phone:          strings.TrimSpace(opts.Phone),
		TelegramChatID: opts.TelegramChatID,
		RoleID:         strings.TrimSpace(opts.RoleID),
		Admin:          opts.Admin,
		CreatedAt:      e.stamp(),
	}
	err := e.inTx(ctx, "upsert user", func(tx *sql.Tx) error {
		if u.RoleID != "" {
			if _, err := e.Repo.GetRole(ctx, tx, u.RoleID); err != nil {
				return notFound("role", u.RoleID, err)
			}
		}
		if err := e.Repo.UpsertUser(ctx, tx, u); err != nil {
			return err
		}
		stored, err := e.Repo.GetUser(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		u = stored
		return e.journal().Append(ctx, tx, events.UserUpdated, "", "user", u.ID, actorID(actor), events.EventPayload{
			"role_id": u.RoleID,
			"admin":   u.Admin,
		})
	})
	return u, err
}

type RoleOptions struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	PrimaryUserID string `json:"primary_user_id,omitempty"`
}

// UpsertRole creates or updates a role and its primary user. Admin only.
func (e Engine) UpsertRole(ctx context.Context, actor auth.Actor, opts RoleOptions) (domain.Role, error) {
	if err := requireAdmin(actor, "manage roles"); err != nil {
		return domain.Role{}, err
	}
	if err := check(opts); err != nil {
		return domain.Role{}, err
	}
	role := domain.Role{
		ID:            strings.TrimSpace(opts.ID),
		Name:          strings.TrimSpace(opts.Name),
		PrimaryUserID: strings.TrimSpace(opts.PrimaryUserID),
	}
	err := e.inTx(ctx, "upsert role", func(tx *sql.Tx) error {
		if role.PrimaryUserID != "" {
			if _, err := e.Repo.GetUser(ctx, tx, role.PrimaryUserID); err != nil {
				return notFound("user", role.PrimaryUserID, err)
			}
		}
		if err := e.Repo.UpsertRole(ctx, tx, role, e.stamp()); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.RoleUpdated, "", "role", role.ID, actorID(actor), events.EventPayload{
			"primary_user_id": role.PrimaryUserID,
		})
	})
	return role, err
}

// SetPhaseRole maps a phase to its default role. An empty roleID removes the
// mapping. Admin only.
func (e Engine) SetPhaseRole(ctx context.Context, actor auth.Actor, phase int, roleID string) error {
	if err := requireAdmin(actor, "manage phase roles"); err != nil {
		return err
	}
	if _, ok := e.catalog().Phase(phase); !ok {
		return invalid("phase_number", "unknown phase %d", phase)
	}
	roleID = strings.TrimSpace(roleID)
	return e.inTx(ctx, "set phase role", func(tx *sql.Tx) error {
		if roleID != "" {
			if _, err := e.Repo.GetRole(ctx, tx, roleID); err != nil {
				return notFound("role", roleID, err)
			}
		}
		if err := e.Repo.SetPhaseRole(ctx, tx, phase, roleID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.PhaseRoleUpdated, "", "phase", "", actorID(actor), events.EventPayload{
			"phase":   phase,
			"role_id": roleID,
		})
	})
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, nil, id)
	if err != nil {
		return u, notFound("user", id, err)
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	res, err := e.Repo.ListUsers(ctx)
	return res, persistErr("list users", err)
}

func (e Engine) ListRoles(ctx context.Context) ([]domain.Role, error) {
	res, err := e.Repo.ListRoles(ctx)
	return res, persistErr("list roles", err)
}

func (e Engine) ListPhaseRoles(ctx context.Context) ([]domain.PhaseRole, error) {
	res, err := e.Repo.ListPhaseRoles(ctx)
	return res, persistErr("list phase roles", err)
}

// ListTemplates returns template rows of one phase, or all when phase is 0.
func (e Engine) ListTemplates(ctx context.Context, phase int) ([]domain.TaskTemplate, error) {
	res, err := e.Repo.ListTemplates(ctx, nil, phase)
	return res, persistErr("list templates", err)
}

// APIKeyPrefix marks plaintext keys issued by CreateAPIKey.
const APIKeyPrefix = "pl_"

// CreateAPIKey issues a key for a user. The plaintext is returned once; only
// its hash is stored. Admin only.
func (e Engine) CreateAPIKey(ctx context.Context, actor auth.Actor, userID, name string) (string, domain.APIKey, error) {
	if err := requireAdmin(actor, "issue api keys"); err != nil {
		return "", domain.APIKey{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.APIKey{}, invalid("user_id", "is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, PersistenceError{Op: "generate api key", Err: err}
	}
	plain := APIKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	err := e.inTx(ctx, "create api key", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetUser(ctx, tx, userID); err != nil {
			return notFound("user", userID, err)
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.APIKeyCreated, "", "api_key", key.ID, actorID(actor), events.EventPayload{
			"user_id": userID,
			"name":    key.Name,
		})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	res, err := e.Repo.ListAPIKeys(ctx, userID)
	return res, persistErr("list api keys", err)
}

// RevokeAPIKey deletes a key by id. Admin only.
func (e Engine) RevokeAPIKey(ctx context.Context, actor auth.Actor, id string) error {
	if err := requireAdmin(actor, "revoke api keys"); err != nil {
		return err
	}
	if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
		return notFound("api key", id, err)
	}
	return nil
}

// ActorForAPIKey maps a presented plaintext key to the owning user.
func (e Engine) ActorForAPIKey(ctx context.Context, plain string) (auth.Actor, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		return auth.Actor{}, notFound("api key", "", err)
	}
	u, err := e.GetUser(ctx, key.ActorID)
	if err != nil {
		return auth.Actor{}, err
	}
	return auth.Actor{ID: u.ID, Name: u.Name, Admin: u.Admin}, nil
}

// ListEvents returns the newest journal rows matching f.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	res, err := e.Repo.LatestEvents(ctx, f)
	return res, persistErr("list events", err)
}
