package proplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Propline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID              string  `json:"id"`
	PropertyID      string  `json:"property_id"`
	OwnerID         string  `json:"owner_id"`
	OwnerName       string  `json:"owner_name"`
	PropertyAddress string  `json:"property_address"`
	Progress        float64 `json:"progress"`
	Status          string  `json:"status"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	PhaseNumber int     `json:"phase_number"`
	Title       string  `json:"title"`
	FieldType   string  `json:"field_type"`
	FieldValue  string  `json:"field_value"`
	Status      string  `json:"status"`
	Notes       string  `json:"notes"`
	DueDate     *string `json:"due_date,omitempty"`
	FilePath    *string `json:"file_path,omitempty"`
}

// Phase is one phase with its completion and tasks.
type Phase struct {
	Number        int     `json:"number"`
	Title         string  `json:"title"`
	CompletionPct float64 `json:"completion_pct"`
	Tasks         []Task  `json:"tasks"`
}

// Delta is a before/after pair of percentages.
type Delta struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// FieldUpdate is the result of a field change.
type FieldUpdate struct {
	Task            Task   `json:"task"`
	Status          string `json:"status"`
	PhaseCompletion Delta  `json:"phase_completion"`
	ProjectProgress Delta  `json:"project_progress"`
	ProjectStatus   string `json:"project_status"`
}

// RescheduleLog is one due date change.
type RescheduleLog struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	PreviousDueDate *string `json:"previous_due_date,omitempty"`
	BaseDueDate     *string `json:"base_due_date,omitempty"`
	NewDueDate      string  `json:"new_due_date"`
	Reason          string  `json:"reason"`
	ActorName       string  `json:"actor_name"`
	DaysDelayed     int     `json:"days_delayed"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateProject opens an onboarding project.
func (c *Client) CreateProject(ctx context.Context, propertyID, ownerID, address string) (Project, error) {
	body := map[string]any{
		"property_id":      propertyID,
		"owner_id":         ownerID,
		"property_address": address,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// Phases returns the phases of a project with their tasks.
func (c *Client) Phases(ctx context.Context, projectID string) ([]Phase, error) {
	var resp []Phase
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s/phases", url.PathEscape(projectID)), nil, &resp)
	return resp, err
}

// UpdateField sets a field value. editRequested reopens a filled field.
func (c *Client) UpdateField(ctx context.Context, taskID, value string, editRequested bool) (FieldUpdate, error) {
	body := map[string]any{"value": value}
	if editRequested {
		body["edit_requested"] = true
	}
	var resp FieldUpdate
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%s/field", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// Reschedule moves a task's due date.
func (c *Client) Reschedule(ctx context.Context, taskID, newDueDate, reason string) (RescheduleLog, error) {
	body := map[string]any{
		"new_due_date": newDueDate,
		"reason":       reason,
	}
	var resp RescheduleLog
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/reschedule", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// Assign sets the explicit assignee; an empty userID clears it.
func (c *Client) Assign(ctx context.Context, taskID, userID string) (Task, error) {
	body := map[string]any{}
	if userID != "" {
		body["user_id"] = userID
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/assign", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// MarkNotApplicable completes a task as skipped.
func (c *Client) MarkNotApplicable(ctx context.Context, taskID, reason string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/na", url.PathEscape(taskID)), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// AttachFile uploads the attachment of a file task.
func (c *Client) AttachFile(ctx context.Context, taskID, filename string, r io.Reader) (Task, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Task{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return Task{}, err
	}
	if err := mw.Close(); err != nil {
		return Task{}, err
	}
	var resp Task
	err = c.send(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/file", url.PathEscape(taskID)), mw.FormDataContentType(), &buf, &resp)
	return resp, err
}

// FileURL returns a time-limited download link.
func (c *Client) FileURL(ctx context.Context, taskID string, ttl time.Duration) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	endpoint := fmt.Sprintf("tasks/%s/file-url", url.PathEscape(taskID))
	if ttl > 0 {
		endpoint = fmt.Sprintf("%s?ttl_seconds=%d", endpoint, int(ttl.Seconds()))
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.URL, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(endpoint), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) endpoint(p string) string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		basePath = "v0"
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.BaseURL, "/"), basePath, strings.TrimLeft(p, "/"))
}
