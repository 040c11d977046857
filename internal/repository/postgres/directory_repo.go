package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
)

// DirectoryRepo implements DirectoryRepository using PostgreSQL.
type DirectoryRepo struct{ q Querier }

// NewDirectoryRepo constructs a directory repository.
func NewDirectoryRepo(db *DB) *DirectoryRepo { return &DirectoryRepo{q: db.Pool} }

// Query returns one page of rows and the total count of matching rows.
func (r *DirectoryRepo) Query(ctx context.Context, q model.PageQuery) ([]model.UserRow, int, error) {
	dq := buildDirectoryQuery(q)

	var total int
	if err := r.q.QueryRow(ctx, dq.count, dq.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.q.Query(ctx, dq.page, dq.pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.UserRow, 0, q.PageSize)
	for rows.Next() {
		var u model.UserRow
		if err := rows.Scan(&u.UserID, &u.Username, &u.FirstName, &u.LastName, &u.Email,
			&u.IsActive, &u.CreatedDate, &u.Role); err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *DirectoryRepo) getOne(ctx context.Context, cond string, arg any) (*model.UserRow, error) {
	q := directoryBase + "\nSELECT " + directoryColumns + " FROM base WHERE " + cond
	var u model.UserRow
	err := r.q.QueryRow(ctx, q, arg).Scan(&u.UserID, &u.Username, &u.FirstName, &u.LastName, &u.Email,
		&u.IsActive, &u.CreatedDate, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByUserID loads a row by directory user id.
func (r *DirectoryRepo) GetByUserID(ctx context.Context, userID int64) (*model.UserRow, error) {
	return r.getOne(ctx, "user_id = $1", userID)
}

// GetByUsername loads a row by normalized username.
func (r *DirectoryRepo) GetByUsername(ctx context.Context, normalizedUsername string) (*model.UserRow, error) {
	return r.getOne(ctx, "normalized_username = $1", normalizedUsername)
}

// GetByAccountID loads a row by account id.
func (r *DirectoryRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.UserRow, error) {
	return r.getOne(ctx, "account_id = $1", accountID)
}

// AccountIDOf resolves the account behind a directory user id.
func (r *DirectoryRepo) AccountIDOf(ctx context.Context, userID int64) (uuid.UUID, error) {
	const q = `SELECT account_id FROM users WHERE user_id=$1`
	var id uuid.UUID
	if err := r.q.QueryRow(ctx, q, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errs.ErrNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// CreateProfile inserts a profile row and returns the generated user id.
func (r *DirectoryRepo) CreateProfile(ctx context.Context, p *model.DirectoryProfile) (int64, error) {
	const q = `
INSERT INTO users (account_id, first_name, last_name, is_active)
VALUES ($1, $2, $3, $4)
RETURNING user_id, created_date`
	if err := r.q.QueryRow(ctx, q, p.AccountID, p.FirstName, p.LastName, p.IsActive).
		Scan(&p.UserID, &p.CreatedDate); err != nil {
		if isUniqueViolation(err) {
			return 0, errs.ErrAlreadyExists
		}
		return 0, err
	}
	return p.UserID, nil
}

// UpdateProfile applies the non-nil fields.
func (r *DirectoryRepo) UpdateProfile(ctx context.Context, userID int64, firstName, lastName *string, isActive *bool) error {
	const q = `
UPDATE users
SET first_name = COALESCE($2, first_name),
    last_name  = COALESCE($3, last_name),
    is_active  = COALESCE($4, is_active)
WHERE user_id=$1`
	tag, err := r.q.Exec(ctx, q, userID, firstName, lastName, isActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteAccount removes the account owning the profile; the profile and role edges cascade.
func (r *DirectoryRepo) DeleteAccount(ctx context.Context, userID int64) error {
	const q = `DELETE FROM accounts a USING users u WHERE u.account_id = a.id AND u.user_id=$1`
	tag, err := r.q.Exec(ctx, q, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
