package repo

import (
	"context"
	"database/sql"
	"strings"

	"propline/internal/domain"
)

const taskColumns = `id,project_id,phase_number,phase_title,title,description,field_type,field_value,status,notes,due_date,original_due_date,file_path,assigned_to_uuid,assigned_role_id,position,completed_date,created_at,updated_at`

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var dueDate, originalDue, filePath, assignedTo, assignedRole, completed sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.PhaseNumber, &t.PhaseTitle, &t.Title, &t.Description, &t.FieldType, &t.FieldValue,
		&t.Status, &t.Notes, &dueDate, &originalDue, &filePath, &assignedTo, &assignedRole, &t.Position, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.DueDate = stringPtr(dueDate)
	t.OriginalDueDate = stringPtr(originalDue)
	t.FilePath = stringPtr(filePath)
	t.AssignedToUUID = stringPtr(assignedTo)
	t.AssignedRoleID = stringPtr(assignedRole)
	t.CompletedDate = stringPtr(completed)
	return t, nil
}

// InsertTask creates a task instance. It reports false without error when the
// (project, phase, title) key already exists.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id, phase_number, title) DO NOTHING`,
		t.ID, t.ProjectID, t.PhaseNumber, t.PhaseTitle, t.Title, t.Description, t.FieldType, t.FieldValue, t.Status, t.Notes,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.OriginalDueDate), nullableStringPtr(t.FilePath),
		nullableStringPtr(t.AssignedToUUID), nullableStringPtr(t.AssignedRoleID), t.Position, nullableStringPtr(t.CompletedDate),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateTask writes every mutable column. Phase title and identity are write-once.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	return expectAffected(r.on(tx).ExecContext(ctx, `UPDATE tasks SET description=?, field_value=?, status=?, notes=?, due_date=?, original_due_date=?, file_path=?,
assigned_to_uuid=?, assigned_role_id=?, position=?, completed_date=?, updated_at=? WHERE id=?`,
		t.Description, t.FieldValue, t.Status, t.Notes, nullableStringPtr(t.DueDate), nullableStringPtr(t.OriginalDueDate),
		nullableStringPtr(t.FilePath), nullableStringPtr(t.AssignedToUUID), nullableStringPtr(t.AssignedRoleID), t.Position,
		nullableStringPtr(t.CompletedDate), t.UpdatedAt, t.ID))
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.on(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	return expectAffected(r.on(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	ProjectID   string
	PhaseNumber int
	Status      string
	AssignedTo  string
	// DueBefore selects tasks with a due date strictly before the given YYYY-MM-DD.
	DueBefore string
}

// ListTasks returns tasks in phase and catalog order.
func (r Repo) ListTasks(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.PhaseNumber > 0 {
		clauses = append(clauses, "phase_number=?")
		args = append(args, f.PhaseNumber)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to_uuid=?")
		args = append(args, f.AssignedTo)
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date<?")
		args = append(args, f.DueBefore)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` ORDER BY project_id, phase_number, position, title`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTasksByPhase returns the number of task instances per phase number.
func (r Repo) CountTasksByPhase(ctx context.Context, tx *sql.Tx, projectID string) (map[int]int, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT phase_number, count(*) FROM tasks WHERE project_id=? GROUP BY phase_number`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int]int{}
	for rows.Next() {
		var phase, count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, err
		}
		res[phase] = count
	}
	return res, rows.Err()
}
