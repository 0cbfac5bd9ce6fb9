package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"propline/internal/engine"
	"propline/internal/export"
)

const (
	maxUploadBytes = 32 << 20
	maxBodyBytes   = 1 << 20
	xlsxMediaType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// registerFileRoutes mounts the binary endpoints Huma does not model well:
// multipart upload, spreadsheet export and signed downloads.
func registerFileRoutes(r chi.Router, basePath string, cfg Config) {
	e := cfg.Engine
	r.Post(path.Join(basePath, "tasks/{task_id}/file"), func(w http.ResponseWriter, req *http.Request) {
		actor, authErr := actorFromRequest(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
		if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form with a file part required", map[string]any{"error": err.Error()}))
			return
		}
		defer req.MultipartForm.RemoveAll()
		file, header, err := req.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file part required", nil))
			return
		}
		defer file.Close()
		editRequested, _ := strconv.ParseBool(req.FormValue("edit_requested"))
		t, err := e.AttachTaskFile(req.Context(), actor, engine.AttachFileOptions{
			TaskID:        chi.URLParam(req, "task_id"),
			Filename:      header.Filename,
			EditRequested: editRequested,
		}, file)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t)
	})

	r.Get(path.Join(basePath, "projects/{project_id}/export.xlsx"), func(w http.ResponseWriter, req *http.Request) {
		actor, authErr := actorFromRequest(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		projectID := chi.URLParam(req, "project_id")
		p, err := e.GetProject(req.Context(), projectID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		phases, err := e.ListPhasesWithProgress(req.Context(), actor, projectID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		var buf bytes.Buffer
		if err := export.Checklist(&buf, p, phases); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", xlsxMediaType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-checklist.xlsx"`, p.PropertyID))
		w.Write(buf.Bytes())
	})

	r.Get("/files/{token}", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Files == nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "file downloads are disabled", nil))
			return
		}
		blob, err := cfg.Files.Verify(chi.URLParam(req, "token"))
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusForbidden, "invalid_token", "link is invalid or expired", nil))
			return
		}
		f, err := cfg.Files.Open(blob)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "file no longer exists", nil))
				return
			}
			respondStatusError(w, handleError(err))
			return
		}
		defer f.Close()
		modTime := time.Time{}
		if st, err := f.Stat(); err == nil {
			modTime = st.ModTime()
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(blob)))
		http.ServeContent(w, req, filepath.Base(blob), modTime, f)
	})
}
