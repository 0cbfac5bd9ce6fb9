package repo

import (
	"context"
	"database/sql"
	"errors"

	"propline/internal/domain"
)

const userColumns = `id,name,email,phone,telegram_chat_id,role_id,admin,created_at`

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	var role sql.NullString
	var admin int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.TelegramChatID, &role, &admin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.RoleID = role.String
	u.Admin = admin == 1
	return u, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, phone=excluded.phone,
  telegram_chat_id=excluded.telegram_chat_id, role_id=excluded.role_id, admin=excluded.admin`,
		u.ID, u.Name, u.Email, u.Phone, u.TelegramChatID, nullable(u.RoleID), boolInt(u.Admin), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(r.on(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpsertRole(ctx context.Context, tx *sql.Tx, role domain.Role, now string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO roles(id,name,primary_user_id,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, primary_user_id=excluded.primary_user_id`,
		role.ID, role.Name, nullable(role.PrimaryUserID), now)
	return err
}

func (r Repo) GetRole(ctx context.Context, tx *sql.Tx, id string) (domain.Role, error) {
	var role domain.Role
	var primary sql.NullString
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,name,primary_user_id FROM roles WHERE id=?`, id).Scan(&role.ID, &role.Name, &primary)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	role.PrimaryUserID = primary.String
	return role, err
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,primary_user_id FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var role domain.Role
		var primary sql.NullString
		if err := rows.Scan(&role.ID, &role.Name, &primary); err != nil {
			return nil, err
		}
		role.PrimaryUserID = primary.String
		res = append(res, role)
	}
	return res, rows.Err()
}

// SetPhaseRole maps a phase to its default role; an empty roleID removes the mapping.
func (r Repo) SetPhaseRole(ctx context.Context, tx *sql.Tx, phase int, roleID string) error {
	if roleID == "" {
		_, err := r.on(tx).ExecContext(ctx, `DELETE FROM phase_roles WHERE phase_number=?`, phase)
		return err
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO phase_roles(phase_number, role_id) VALUES (?,?)
ON CONFLICT(phase_number) DO UPDATE SET role_id=excluded.role_id`, phase, roleID)
	return err
}

func (r Repo) ListPhaseRoles(ctx context.Context) ([]domain.PhaseRole, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT phase_number, role_id FROM phase_roles ORDER BY phase_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PhaseRole
	for rows.Next() {
		var pr domain.PhaseRole
		if err := rows.Scan(&pr.PhaseNumber, &pr.RoleID); err != nil {
			return nil, err
		}
		res = append(res, pr)
	}
	return res, rows.Err()
}

// Directory answers role-default lookups for assignment resolution. Tx may be
// nil to read outside a transaction.
type Directory struct {
	Repo Repo
	Tx   *sql.Tx
}

func (d Directory) PhaseRole(ctx context.Context, phase int) (string, bool, error) {
	var roleID string
	err := d.Repo.on(d.Tx).QueryRowContext(ctx, `SELECT role_id FROM phase_roles WHERE phase_number=?`, phase).Scan(&roleID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return roleID, true, nil
}

func (d Directory) PrimaryUser(ctx context.Context, roleID string) (string, bool, error) {
	role, err := d.Repo.GetRole(ctx, d.Tx, roleID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role.PrimaryUserID, role.PrimaryUserID != "", nil
}
