package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"propline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on runs against tx when one is given, else against the pool.
func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func expectAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const projectColumns = `id,property_id,owner_id,owner_name,property_address,progress,status,created_at,updated_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.PropertyID, &p.OwnerID, &p.OwnerName, &p.PropertyAddress, &p.Progress, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.PropertyID, p.OwnerID, p.OwnerName, p.PropertyAddress, p.Progress, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.on(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	PropertyID string
	OwnerID    string
	Status     string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.PropertyID != "" {
		clauses = append(clauses, "property_id=?")
		args = append(args, f.PropertyID)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectProgress stores the derived progress and status.
func (r Repo) UpdateProjectProgress(ctx context.Context, tx *sql.Tx, id string, progress float64, status, updatedAt string) error {
	return expectAffected(r.on(tx).ExecContext(ctx, `UPDATE projects SET progress=?, status=?, updated_at=? WHERE id=?`, progress, status, updatedAt, id))
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	return expectAffected(r.on(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id))
}

type EventFilters struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	// Before pages backwards from an event id (exclusive).
	Before int64
	Limit  int
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the newest journal id, or 0 when the journal is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
