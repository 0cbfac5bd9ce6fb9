package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"propline/internal/domain"
	"propline/internal/engine"
	"propline/internal/engine/auth"
	"propline/internal/repo"
)

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-task-to-phase",
		Method:      http.MethodPost,
		Path:        "/phases/{phase}/tasks",
		Summary:     "Add or update a template task",
		Description: "With project_id the task is also added to that project.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Phase int            `path:"phase" minimum:"1" maximum:"9"`
		Body  AddTaskRequest `json:"body"`
	}) (*struct {
		Body engine.AddedTask `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AddTaskToPhase(ctx, actor, engine.AddTaskOptions{
			PhaseNumber:   input.Phase,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			FieldType:     input.Body.FieldType,
			Category:      input.Body.Category,
			DefaultRoleID: input.Body.DefaultRoleID,
			ProjectID:     input.Body.ProjectID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AddedTask `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List template tasks",
	}, func(ctx context.Context, input *struct {
		Phase int `query:"phase" minimum:"0" maximum:"9"`
	}) (*struct {
		Body []domain.TaskTemplate `json:"body"`
	}, error) {
		items, err := e.ListTemplates(ctx, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskTemplate `json:"body"`
		}{Body: nonNil(items)}, nil
	})
}

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		items, err := e.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-user",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}",
		Summary:     "Create or update a user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UserID string      `path:"user_id"`
		Body   UserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.UpsertUser(ctx, actor, engine.UserOptions{
			ID:             input.UserID,
			Name:           input.Body.Name,
			Email:          input.Body.Email,
			Phone:          input.Body.Phone,
			TelegramChatID: input.Body.TelegramChatID,
			RoleID:         input.Body.RoleID,
			Admin:          input.Body.Admin,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List roles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Role `json:"body"`
	}, error) {
		items, err := e.ListRoles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Role `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-role",
		Method:      http.MethodPut,
		Path:        "/roles/{role_id}",
		Summary:     "Create or update a role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RoleID string      `path:"role_id"`
		Body   RoleRequest `json:"body"`
	}) (*struct {
		Body domain.Role `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.UpsertRole(ctx, actor, engine.RoleOptions{
			ID:            input.RoleID,
			Name:          input.Body.Name,
			PrimaryUserID: input.Body.PrimaryUserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Role `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-phase-roles",
		Method:      http.MethodGet,
		Path:        "/phase-roles",
		Summary:     "Default role per phase",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PhaseRole `json:"body"`
	}, error) {
		items, err := e.ListPhaseRoles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PhaseRole `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-phase-role",
		Method:      http.MethodPut,
		Path:        "/phase-roles/{phase}",
		Summary:     "Set the default role of a phase",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Phase int              `path:"phase" minimum:"1" maximum:"9"`
		Body  PhaseRoleRequest `json:"body"`
	}) (*struct {
		Body domain.PhaseRole `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetPhaseRole(ctx, actor, input.Phase, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PhaseRole `json:"body"`
		}{Body: domain.PhaseRole{PhaseNumber: input.Phase, RoleID: input.Body.RoleID}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plain, key, err := e.CreateAPIKey(ctx, actor, input.Body.UserID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{Key: plain, APIKey: key}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys of a user",
		Description: "Regular actors only see their own keys.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		userID := strings.TrimSpace(input.UserID)
		if userID == "" {
			userID = actor.ID
		}
		if userID != actor.ID && !actor.Admin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin privilege required to list other users' keys", nil)
		}
		items, err := e.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, actor, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			// Events are newest first; the cursor pages to older ones.
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := MeResponse{Actor: actor}
		u, err := e.GetUser(ctx, actor.ID)
		switch {
		case err == nil:
			resp.User = &u
		case !errors.Is(err, repo.ErrNotFound):
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signToken(authCfg, auth.Actor{ID: actor, Name: input.Body.Name, Admin: input.Body.Admin}, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
