package repo

import (
	"context"
	"database/sql"

	"propline/internal/domain"
)

const templateColumns = `phase_number,title,description,field_type,category,default_role_id,position,created_at,updated_at`

func scanTemplate(row scanner) (domain.TaskTemplate, error) {
	var t domain.TaskTemplate
	var role sql.NullString
	err := row.Scan(&t.PhaseNumber, &t.Title, &t.Description, &t.FieldType, &t.Category, &role, &t.Position, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.DefaultRoleID = stringPtr(role)
	return t, err
}

// SeedTemplate inserts a template unless the (phase, title) key exists.
func (r Repo) SeedTemplate(ctx context.Context, tx *sql.Tx, t domain.TaskTemplate) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO task_templates(`+templateColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.PhaseNumber, t.Title, t.Description, t.FieldType, t.Category, nullableStringPtr(t.DefaultRoleID), t.Position, t.CreatedAt, t.UpdatedAt)
	return err
}

// UpsertTemplate is the single write path keyed by (phase_number, title).
// A nil DefaultRoleID keeps the stored role.
func (r Repo) UpsertTemplate(ctx context.Context, tx *sql.Tx, t domain.TaskTemplate) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO task_templates(`+templateColumns+`) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(phase_number, title) DO UPDATE SET
  description=CASE WHEN excluded.description<>'' THEN excluded.description ELSE task_templates.description END,
  field_type=excluded.field_type,
  category=CASE WHEN excluded.category<>'' THEN excluded.category ELSE task_templates.category END,
  default_role_id=COALESCE(excluded.default_role_id, task_templates.default_role_id),
  updated_at=excluded.updated_at`,
		t.PhaseNumber, t.Title, t.Description, t.FieldType, t.Category, nullableStringPtr(t.DefaultRoleID), t.Position, t.CreatedAt, t.UpdatedAt)
	return err
}

// SetTemplateRole updates only the default role of an existing template.
func (r Repo) SetTemplateRole(ctx context.Context, tx *sql.Tx, phase int, title, roleID, updatedAt string) error {
	return expectAffected(r.on(tx).ExecContext(ctx, `UPDATE task_templates SET default_role_id=?, updated_at=? WHERE phase_number=? AND title=?`,
		nullable(roleID), updatedAt, phase, title))
}

func (r Repo) GetTemplate(ctx context.Context, tx *sql.Tx, phase int, title string) (domain.TaskTemplate, error) {
	return scanTemplate(r.on(tx).QueryRowContext(ctx, `SELECT `+templateColumns+` FROM task_templates WHERE phase_number=? AND title=?`, phase, title))
}

// ListTemplates returns templates in display order; phase 0 lists every phase.
func (r Repo) ListTemplates(ctx context.Context, tx *sql.Tx, phase int) ([]domain.TaskTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM task_templates`
	var args []any
	if phase > 0 {
		query += ` WHERE phase_number=?`
		args = append(args, phase)
	}
	query += ` ORDER BY phase_number, position, title`
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextTemplatePosition returns a position after every template of the phase.
func (r Repo) NextTemplatePosition(ctx context.Context, tx *sql.Tx, phase int) (int, error) {
	var max int
	if err := r.on(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM task_templates WHERE phase_number=?`, phase).Scan(&max); err != nil {
		return 0, err
	}
	return max + 10, nil
}
