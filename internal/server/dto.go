package server

import (
	"encoding/json"

	"propline/internal/domain"
	"propline/internal/engine/auth"
)

// Request payloads

type UpdateFieldRequest struct {
	Value         *string `json:"value,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	EditRequested bool    `json:"edit_requested,omitempty"`
	MarkComplete  bool    `json:"mark_complete,omitempty"`
}

type AssignRequest struct {
	UserID         *string `json:"user_id,omitempty" doc:"omit or null to clear the explicit assignee"`
	SaveAsTemplate bool    `json:"save_as_template,omitempty"`
}

type RescheduleRequest struct {
	NewDueDate string `json:"new_due_date" format:"date" example:"2026-03-20"`
	Reason     string `json:"reason" minLength:"1"`
}

type NotApplicableRequest struct {
	Reason string `json:"reason" minLength:"1"`
}

type AddTaskRequest struct {
	Title         string `json:"title" minLength:"1"`
	Description   string `json:"description,omitempty"`
	FieldType     string `json:"field_type" enum:"text,textarea,checkbox,date,file,currency,phone,radio,section_header"`
	Category      string `json:"category,omitempty"`
	DefaultRoleID string `json:"default_role_id,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
}

type UserRequest struct {
	Name           string `json:"name" minLength:"1"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	RoleID         string `json:"role_id,omitempty"`
	Admin          bool   `json:"admin,omitempty"`
}

type RoleRequest struct {
	Name          string `json:"name" minLength:"1"`
	PrimaryUserID string `json:"primary_user_id,omitempty"`
}

type PhaseRoleRequest struct {
	RoleID string `json:"role_id,omitempty" doc:"empty removes the mapping"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id" minLength:"1"`
	Name   string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Name    string `json:"name,omitempty"`
	Admin   bool   `json:"admin,omitempty"`
}

// Response payloads

type BackfillResponse struct {
	Created int `json:"created"`
}

type FileURLResponse struct {
	URL string `json:"url"`
}

type APIKeyCreatedResponse struct {
	Key    string        `json:"key" doc:"shown once"`
	APIKey domain.APIKey `json:"api_key"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	Actor auth.Actor   `json:"actor"`
	User  *domain.User `json:"user,omitempty"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
