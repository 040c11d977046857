// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/user-directory/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository provides access to authenticable accounts.
type AccountRepository interface {
	// Create inserts a new account. Duplicate username/email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByUsername loads an account by normalized username.
	GetByUsername(ctx context.Context, normalizedUsername string) (*model.Account, error)
	// UsernameTaken reports whether another account (not except) holds the normalized username.
	UsernameTaken(ctx context.Context, normalizedUsername string, except uuid.UUID) (bool, error)
	// EmailTaken reports whether another account (not except) holds the normalized email.
	EmailTaken(ctx context.Context, normalizedEmail string, except uuid.UUID) (bool, error)
	// UpdateIdentity persists username, email and security stamp.
	UpdateIdentity(ctx context.Context, a *model.Account) error
	// UpdatePassword replaces hash, salt and security stamp.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash, salt []byte, stamp string) error
	// Lock takes a row lock on the account for the rest of the transaction.
	Lock(ctx context.Context, id uuid.UUID) error
}

// RoleRepository provides the role catalog and account-role edges.
type RoleRepository interface {
	// FindByName loads a role by normalized name.
	FindByName(ctx context.Context, normalizedName string) (*model.Role, error)
	// List returns the whole catalog ordered by name.
	List(ctx context.Context) ([]model.Role, error)
	// Claims returns a role's permission claims in insertion order.
	Claims(ctx context.Context, roleID string) ([]model.PermissionClaim, error)
	// RolesOf returns the names of roles held by the account, ordered by name.
	RolesOf(ctx context.Context, accountID uuid.UUID) ([]string, error)
	// AddToRole creates the account-role edge.
	AddToRole(ctx context.Context, accountID uuid.UUID, normalizedName string) error
	// RemoveFromRoles deletes the account-role edges for the given role names.
	RemoveFromRoles(ctx context.Context, accountID uuid.UUID, normalizedNames []string) error
}

// DirectoryRepository provides directory profiles and listing.
type DirectoryRepository interface {
	// Query returns one window of rows matching q and the total match count.
	Query(ctx context.Context, q model.PageQuery) ([]model.UserRow, int, error)
	// GetByUserID loads one row by directory user id.
	GetByUserID(ctx context.Context, userID int64) (*model.UserRow, error)
	// GetByUsername loads one row by normalized username.
	GetByUsername(ctx context.Context, normalizedUsername string) (*model.UserRow, error)
	// GetByAccountID loads one row by account id.
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*model.UserRow, error)
	// AccountIDOf resolves a directory user id to its account id.
	AccountIDOf(ctx context.Context, userID int64) (uuid.UUID, error)
	// CreateProfile inserts a profile and returns its user id.
	CreateProfile(ctx context.Context, p *model.DirectoryProfile) (int64, error)
	// UpdateProfile applies non-nil fields; no matching row yields errs.ErrNotFound.
	UpdateProfile(ctx context.Context, userID int64, firstName, lastName *string, isActive *bool) error
	// DeleteAccount removes the account behind userID; the profile cascades.
	DeleteAccount(ctx context.Context, userID int64) error
}

// Repos bundles repositories bound to the same connection or transaction.
type Repos struct {
	Accounts  AccountRepository
	Roles     RoleRepository
	Directory DirectoryRepository
}

// Transactor runs fn with repositories bound to a single transaction.
// fn returning an error rolls the transaction back.
type Transactor interface {
	InTx(ctx context.Context, fn func(Repos) error) error
}
