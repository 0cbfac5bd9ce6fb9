package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"propline/internal/domain"
	"propline/internal/engine"
	"propline/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type projectOutput struct {
	Body domain.Project `json:"body"`
}

type rescheduleLogsOutput struct {
	Body []domain.RescheduleLog `json:"body"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create an onboarding project",
		Description:   "Seeds one task per template across all nine phases.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body engine.CreateProjectOptions `json:"body"`
	}) (*projectOutput, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, actor, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		PropertyID string `query:"property_id"`
		OwnerID    string `query:"owner_id"`
		Status     string `query:"status" enum:"pending,in-progress,completed"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			PropertyID: input.PropertyID,
			OwnerID:    input.OwnerID,
			Status:     input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectOutput, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-phases",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/phases",
		Summary:     "Phases with completion and decorated tasks",
		Description: "Missing phases are backfilled before the listing is built.",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []engine.PhaseView `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		phases, err := e.ListPhasesWithProgress(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.PhaseView `json:"body"`
		}{Body: nonNil(phases)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "backfill-phases",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/backfill",
		Summary:     "Create tasks for phases the project lacks",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body BackfillResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.BackfillPhases(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BackfillResponse `json:"body"`
		}{Body: BackfillResponse{Created: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-progress",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/recompute",
		Summary:     "Recompute project progress and status",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *projectPath) (*projectOutput, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RecomputeProgress(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-reschedule-logs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reschedule-logs",
		Summary:     "Reschedule history of a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*rescheduleLogsOutput, error) {
		logs, err := e.ListRescheduleLogs(ctx, "", input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &rescheduleLogsOutput{Body: nonNil(logs)}, nil
	})
}
