package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"propline/internal/domain"
	"propline/internal/engine"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskOutput struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-field",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/field",
		Summary:     "Set a field value and/or notes",
		Description: "Filled values are read-only for regular actors; admins reopen them with edit_requested.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"task_id"`
		Body   UpdateFieldRequest `json:"body"`
	}) (*struct {
		Body engine.FieldUpdate `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.UpdateTaskField(ctx, actor, engine.UpdateFieldOptions{
			TaskID:        input.TaskID,
			Value:         input.Body.Value,
			Notes:         input.Body.Notes,
			EditRequested: input.Body.EditRequested,
			MarkComplete:  input.Body.MarkComplete,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FieldUpdate `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-task-file",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/file",
		Summary:     "Remove the attachment of a file task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID        string `path:"task_id"`
		EditRequested bool   `query:"edit_requested"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.DetachTaskFile(ctx, actor, input.TaskID, input.EditRequested)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-file-url",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/file-url",
		Summary:     "Mint a time-limited download link",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		TaskID     string `path:"task_id"`
		TTLSeconds int    `query:"ttl_seconds" minimum:"0" maximum:"86400"`
	}) (*struct {
		Body FileURLResponse `json:"body"`
	}, error) {
		url, err := e.TaskFileURL(ctx, input.TaskID, time.Duration(input.TTLSeconds)*time.Second)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FileURLResponse `json:"body"`
		}{Body: FileURLResponse{URL: url}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-not-applicable",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/na",
		Summary:     "Mark a task not applicable",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   NotApplicableRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MarkNotApplicable(ctx, actor, input.TaskID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-not-applicable",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/na",
		Summary:     "Clear the not-applicable override",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ClearNotApplicable(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete a task from its project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID  string `path:"task_id"`
		Confirm bool   `query:"confirm"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, actor, input.TaskID, input.Confirm); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign",
		Summary:     "Assign or unassign a task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string        `path:"task_id"`
		Body   AssignRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, actor, engine.AssignOptions{
			TaskID:         input.TaskID,
			UserID:         input.Body.UserID,
			SaveAsTemplate: input.Body.SaveAsTemplate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-assignee",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/assignee",
		Summary:     "Effective assignee of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body engine.Assignee `json:"body"`
	}, error) {
		a, err := e.ResolveAssignee(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Assignee `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reschedule",
		Summary:     "Set or move a due date",
		Description: "Overdue tasks may move at most the configured ceiling past today.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   RescheduleRequest `json:"body"`
	}) (*struct {
		Body domain.RescheduleLog `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.RescheduleTask(ctx, actor, engine.RescheduleOptions{
			TaskID:     input.TaskID,
			NewDueDate: input.Body.NewDueDate,
			Reason:     input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RescheduleLog `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-reschedule-logs",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/reschedule-logs",
		Summary:     "Reschedule history of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*rescheduleLogsOutput, error) {
		logs, err := e.ListRescheduleLogs(ctx, input.TaskID, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &rescheduleLogsOutput{Body: nonNil(logs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-overdue",
		Method:      http.MethodGet,
		Path:        "/overdue",
		Summary:     "Overdue tasks grouped by assignee",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.OverdueGroup `json:"body"`
	}, error) {
		groups, err := e.OverdueTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.OverdueGroup `json:"body"`
		}{Body: nonNil(groups)}, nil
	})
}
