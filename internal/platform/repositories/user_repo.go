package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"suemybrother/internal/pkg/ids"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
)

const userColumns = `id, issuer_id, subject_id, email, name, mobile, active, can_accept_suits, is_superadmin, created_at, updated_at`

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.IssuerID, &u.SubjectID, &u.Email, &u.Name, &u.Mobile, &u.Active, &u.CanAcceptSuits, &u.IsSuperadmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) getOne(ctx context.Context, q querier, where string, args ...interface{}) (*models.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where), args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	roles, err := r.roles(ctx, q, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, r.db, `id = ?`, id)
}

func (r *UserRepository) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*models.User, error) {
	return r.getOne(ctx, tx, `id = ?`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, r.db, `email = ?`, strings.ToLower(email))
}

func (r *UserRepository) GetBySubject(ctx context.Context, issuer, subject string) (*models.User, error) {
	return r.getOne(ctx, r.db, `issuer_id = ? AND subject_id = ?`, issuer, subject)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.create(ctx, r.db, user)
}

func (r *UserRepository) CreateTx(ctx context.Context, tx *sql.Tx, user *models.User) error {
	return r.create(ctx, tx, user)
}

func (r *UserRepository) create(ctx context.Context, q querier, user *models.User) error {
	now := time.Now().Unix()
	if user.ID == "" {
		user.ID = ids.New()
	}
	if user.Email != nil {
		lower := strings.ToLower(*user.Email)
		user.Email = &lower
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), user.ID, user.IssuerID, user.SubjectID, user.Email, user.Name, user.Mobile, user.Active, user.CanAcceptSuits, user.IsSuperadmin, user.CreatedAt, user.UpdatedAt)
	return err
}

// GetOrCreateByEmailTx returns the user with the given email, creating an
// active user without an identity-provider link when none exists.
func (r *UserRepository) GetOrCreateByEmailTx(ctx context.Context, tx *sql.Tx, email string) (*models.User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := r.getOne(ctx, tx, `email = ?`, email)
	if err != nil || u != nil {
		return u, false, err
	}

	u = &models.User{Email: &email, Active: true}
	if err := r.create(ctx, tx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// GetOrCreateByNameTx matches the oldest user with exactly this name other
// than exceptID.
func (r *UserRepository) GetOrCreateByNameTx(ctx context.Context, tx *sql.Tx, name, exceptID string) (*models.User, bool, error) {
	name = strings.TrimSpace(name)
	u, err := r.getOne(ctx, tx, `name = ? AND id <> ? ORDER BY created_at ASC, id ASC LIMIT 1`, name, exceptID)
	if err != nil || u != nil {
		return u, false, err
	}

	u = &models.User{Name: &name, Active: true}
	if err := r.create(ctx, tx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (r *UserRepository) SetNameTx(ctx context.Context, tx *sql.Tx, id, name string) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`), name, time.Now().Unix(), id)
	return err
}

func (r *UserRepository) SetMobileTx(ctx context.Context, tx *sql.Tx, id, mobile string) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(`UPDATE users SET mobile = ?, updated_at = ? WHERE id = ?`), mobile, time.Now().Unix(), id)
	return err
}

func (r *UserRepository) SetName(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`), name, time.Now().Unix(), id)
	return err
}

// UpdateDetails is the self-service edit of name, email and mobile.
func (r *UserRepository) UpdateDetails(ctx context.Context, id string, name, email, mobile *string) error {
	if email != nil {
		lower := strings.ToLower(*email)
		email = &lower
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET name = ?, email = ?, mobile = ?, updated_at = ? WHERE id = ?
	`), name, email, mobile, time.Now().Unix(), id)
	return err
}

// LinkIdentity attaches an identity-provider subject to an existing user.
func (r *UserRepository) LinkIdentity(ctx context.Context, id, issuer, subject string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET issuer_id = ?, subject_id = ?, updated_at = ? WHERE id = ?
	`), issuer, subject, time.Now().Unix(), id)
	return err
}

// AdminUpdate lists the fields staff may change on another user. Nil leaves
// the column as is.
type AdminUpdate struct {
	Name           *string
	Email          *string
	Mobile         *string
	IsSuperadmin   *bool
	CanAcceptSuits *bool
	Active         *bool
}

func (r *UserRepository) UpdateAdminTx(ctx context.Context, tx *sql.Tx, id string, upd AdminUpdate) error {
	if upd.Email != nil {
		lower := strings.ToLower(*upd.Email)
		upd.Email = &lower
	}
	_, err := tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET
			name = COALESCE(?, name),
			email = COALESCE(?, email),
			mobile = COALESCE(?, mobile),
			is_superadmin = COALESCE(?, is_superadmin),
			can_accept_suits = COALESCE(?, can_accept_suits),
			active = COALESCE(?, active),
			updated_at = ?
		WHERE id = ?
	`), upd.Name, upd.Email, upd.Mobile, upd.IsSuperadmin, upd.CanAcceptSuits, upd.Active, time.Now().Unix(), id)
	return err
}

func (r *UserRepository) DeleteTx(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM user_roles WHERE user_id = ?`), id); err != nil {
		return 0, err
	}
	return rowsAffected(tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), id))
}

func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, u := range users {
		if u.Roles, err = r.roles(ctx, r.db, u.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (r *UserRepository) roles(ctx context.Context, q querier, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.db.Rebind(`
		SELECT roles.name FROM roles
		JOIN user_roles ON user_roles.role_id = roles.id
		WHERE user_roles.user_id = ?
		ORDER BY roles.name
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *UserRepository) FindOrCreateRoleTx(ctx context.Context, tx *sql.Tx, name string) (*models.Role, error) {
	role := &models.Role{}
	err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT id, name, description FROM roles WHERE name = ?`), name).
		Scan(&role.ID, &role.Name, &role.Description)
	if err == nil {
		return role, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	role = &models.Role{ID: ids.New(), Name: name}
	_, err = tx.ExecContext(ctx, r.db.Rebind(`INSERT INTO roles (id, name, description) VALUES (?, ?, ?)`), role.ID, role.Name, role.Description)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// AddRoleTx grants the named role, creating it on first use.
func (r *UserRepository) AddRoleTx(ctx context.Context, tx *sql.Tx, userID, roleName string) error {
	role, err := r.FindOrCreateRoleTx(ctx, tx, roleName)
	if err != nil {
		return err
	}

	var n int
	err = tx.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM user_roles WHERE user_id = ? AND role_id = ?`), userID, role.ID).Scan(&n)
	if err != nil || n > 0 {
		return err
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`), userID, role.ID)
	return err
}

func (r *UserRepository) RemoveRoleTx(ctx context.Context, tx *sql.Tx, userID, roleName string) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM user_roles
		WHERE user_id = ? AND role_id IN (SELECT id FROM roles WHERE name = ?)
	`), userID, roleName)
	return err
}
