package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ q Querier }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{q: db.Pool} }

const accountColumns = `id, username, normalized_username, email, normalized_email, email_confirmed,
       pwd_hash, salt_auth, security_stamp, created_at`

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, username, normalized_username, email, normalized_email, email_confirmed, pwd_hash, salt_auth, security_stamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, q, a.ID, a.Username, a.NormalizedUsername, a.Email, a.NormalizedEmail,
		a.EmailConfirmed, a.PwdHash, a.SaltAuth, a.SecurityStamp)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	return scanAccount(r.q.QueryRow(ctx, q, id))
}

// GetByUsername selects an account by normalized username.
func (r *AccountRepo) GetByUsername(ctx context.Context, normalizedUsername string) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE normalized_username=$1`
	return scanAccount(r.q.QueryRow(ctx, q, normalizedUsername))
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Username, &a.NormalizedUsername, &a.Email, &a.NormalizedEmail,
		&a.EmailConfirmed, &a.PwdHash, &a.SaltAuth, &a.SecurityStamp, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UsernameTaken reports whether the normalized username belongs to another account.
func (r *AccountRepo) UsernameTaken(ctx context.Context, normalizedUsername string, except uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE normalized_username=$1 AND id<>$2)`
	var taken bool
	err := r.q.QueryRow(ctx, q, normalizedUsername, except).Scan(&taken)
	return taken, err
}

// EmailTaken reports whether the normalized email belongs to another account.
func (r *AccountRepo) EmailTaken(ctx context.Context, normalizedEmail string, except uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE normalized_email=$1 AND id<>$2)`
	var taken bool
	err := r.q.QueryRow(ctx, q, normalizedEmail, except).Scan(&taken)
	return taken, err
}

// UpdateIdentity writes username, email and security stamp.
func (r *AccountRepo) UpdateIdentity(ctx context.Context, a *model.Account) error {
	const q = `
UPDATE accounts
SET username=$2, normalized_username=$3, email=$4, normalized_email=$5, email_confirmed=$6, security_stamp=$7
WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, a.ID, a.Username, a.NormalizedUsername, a.Email, a.NormalizedEmail,
		a.EmailConfirmed, a.SecurityStamp)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash and salt and rotates the stamp.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash, salt []byte, stamp string) error {
	const q = `UPDATE accounts SET pwd_hash=$2, salt_auth=$3, security_stamp=$4 WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, id, hash, salt, stamp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Lock takes FOR UPDATE on the account row; only meaningful inside a transaction.
func (r *AccountRepo) Lock(ctx context.Context, id uuid.UUID) error {
	const q = `SELECT id FROM accounts WHERE id=$1 FOR UPDATE`
	var got uuid.UUID
	if err := r.q.QueryRow(ctx, q, id).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	return nil
}
