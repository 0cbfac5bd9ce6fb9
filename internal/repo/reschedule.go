package repo

import (
	"context"
	"database/sql"

	"propline/internal/domain"
)

const rescheduleColumns = `id,task_id,project_id,previous_due_date,base_due_date,new_due_date,reason,actor_id,actor_name,days_delayed,created_at`

// InsertRescheduleLog appends an audit entry. Entries are never updated.
func (r Repo) InsertRescheduleLog(ctx context.Context, tx *sql.Tx, l domain.RescheduleLog) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO reschedule_logs(`+rescheduleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.TaskID, l.ProjectID, nullableStringPtr(l.PreviousDueDate), nullableStringPtr(l.BaseDueDate), l.NewDueDate, l.Reason, l.ActorID, l.ActorName, l.DaysDelayed, l.CreatedAt)
	return err
}

// ListRescheduleLogs filters by task when taskID is set, else by project. Oldest first.
func (r Repo) ListRescheduleLogs(ctx context.Context, tx *sql.Tx, taskID, projectID string) ([]domain.RescheduleLog, error) {
	query := `SELECT ` + rescheduleColumns + ` FROM reschedule_logs`
	var args []any
	switch {
	case taskID != "":
		query += ` WHERE task_id=?`
		args = append(args, taskID)
	case projectID != "":
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, rowid`
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RescheduleLog
	for rows.Next() {
		var l domain.RescheduleLog
		var prev, base sql.NullString
		if err := rows.Scan(&l.ID, &l.TaskID, &l.ProjectID, &prev, &base, &l.NewDueDate, &l.Reason, &l.ActorID, &l.ActorName, &l.DaysDelayed, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.PreviousDueDate = stringPtr(prev)
		l.BaseDueDate = stringPtr(base)
		res = append(res, l)
	}
	return res, rows.Err()
}
