package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
)

// RoleRepo implements RoleRepository using PostgreSQL.
type RoleRepo struct{ q Querier }

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{q: db.Pool} }

// FindByName selects a role by normalized name.
func (r *RoleRepo) FindByName(ctx context.Context, normalizedName string) (*model.Role, error) {
	const q = `SELECT id, name, normalized_name FROM roles WHERE normalized_name=$1`
	var role model.Role
	if err := r.q.QueryRow(ctx, q, normalizedName).Scan(&role.ID, &role.Name, &role.NormalizedName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// List returns every role ordered by name.
func (r *RoleRepo) List(ctx context.Context) ([]model.Role, error) {
	const q = `SELECT id, name, normalized_name FROM roles ORDER BY name`
	rows, err := r.q.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Role
	for rows.Next() {
		var role model.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.NormalizedName); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Claims returns the role's permission claims ordered by claim id.
func (r *RoleRepo) Claims(ctx context.Context, roleID string) ([]model.PermissionClaim, error) {
	const q = `SELECT claim_type, claim_value FROM role_claims WHERE role_id=$1 ORDER BY id`
	rows, err := r.q.Query(ctx, q, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PermissionClaim
	for rows.Next() {
		var c model.PermissionClaim
		if err := rows.Scan(&c.Type, &c.Value); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RolesOf returns the names of roles held by the account.
func (r *RoleRepo) RolesOf(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	const q = `
SELECT r.name
FROM account_roles ar
JOIN roles r ON r.id = ar.role_id
WHERE ar.account_id=$1
ORDER BY r.name`
	rows, err := r.q.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AddToRole links the account to the role with the given normalized name.
func (r *RoleRepo) AddToRole(ctx context.Context, accountID uuid.UUID, normalizedName string) error {
	const q = `
INSERT INTO account_roles (account_id, role_id)
SELECT $1, id FROM roles WHERE normalized_name=$2`
	tag, err := r.q.Exec(ctx, q, accountID, normalizedName)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRoleNotFound
	}
	return nil
}

// RemoveFromRoles unlinks the account from every listed role.
func (r *RoleRepo) RemoveFromRoles(ctx context.Context, accountID uuid.UUID, normalizedNames []string) error {
	if len(normalizedNames) == 0 {
		return nil
	}
	const q = `
DELETE FROM account_roles ar
USING roles r
WHERE ar.role_id = r.id AND ar.account_id=$1 AND r.normalized_name = ANY($2)`
	_, err := r.q.Exec(ctx, q, accountID, normalizedNames)
	return err
}
