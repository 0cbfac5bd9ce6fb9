package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ProjectCreated   = "project.created"
	ProjectProgress  = "project.progress"
	PhaseBackfilled  = "phase.backfilled"
	TaskUpdated      = "task.updated"
	TaskFileAttached = "task.file_attached"
	TaskFileDetached = "task.file_detached"
	TaskAssigned     = "task.assigned"
	TaskRescheduled  = "task.rescheduled"
	TaskMarkedNA     = "task.marked_na"
	TaskClearedNA    = "task.cleared_na"
	TaskAdded        = "task.added"
	TaskDeleted      = "task.deleted"
	TemplateUpserted = "template.upserted"
	RoleUpdated      = "role.updated"
	UserUpdated      = "user.updated"
	PhaseRoleUpdated = "phase_role.updated"
	APIKeyCreated    = "api_key.created"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one journal row inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
