package proplinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUpdateFieldSendsCredentialsAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v0/tasks/t-1/field" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "pl_key" {
			t.Errorf("missing api key")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["value"] != "Ada" || body["edit_requested"] != true {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"task":{"id":"t-1","field_value":"Ada","status":"completed"},"status":"completed","project_progress":{"before":0,"after":2.4}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "pl_key"
	res, err := c.UpdateField(context.Background(), "t-1", "Ada", true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Task.FieldValue != "Ada" || res.ProjectProgress.After != 2.4 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":{"code":"validation_failed","message":"due_date: due date 2000-01-01 is in the past"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Reschedule(context.Background(), "t-1", "2000-01-01", "late")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "validation_failed" || !strings.Contains(apiErr.Message, "past") {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestAttachFileUsesMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "w9.pdf" || string(data) != "pdf" {
			t.Errorf("unexpected upload %s %q", header.Filename, string(data))
		}
		io.WriteString(w, `{"id":"t-2","field_value":"w9.pdf","status":"completed"}`)
	}))
	defer srv.Close()

	task, err := New(srv.URL).AttachFile(context.Background(), "t-2", "w9.pdf", strings.NewReader("pdf"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if task.FieldValue != "w9.pdf" {
		t.Fatalf("unexpected task %+v", task)
	}
}
