// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Built-in role catalog seeded at bootstrap.
const (
	RoleAdmin      = "ADMIN"
	RoleSupervisor = "SUPERVISOR"
	RoleUser       = "USER"
)

// Permission claim type and the values attached to the built-in roles.
const (
	ClaimTypePermission = "permission"

	PermUsersRead   = "users.read"
	PermUsersWrite  = "users.write"
	PermUsersDelete = "users.delete"
)

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// Account is the authenticable identity. Password material is never stored in plaintext.
type Account struct {
	ID                 uuid.UUID // PK
	Username           string
	NormalizedUsername string // unique
	Email              string
	NormalizedEmail    string // unique
	EmailConfirmed     bool
	PwdHash            []byte // Argon2id(password, SaltAuth)
	SaltAuth           []byte // per-account auth salt
	SecurityStamp      string // rotated on credential changes
	CreatedAt          time.Time
}

// PermissionClaim is a (type, value) pair attached to a Role.
type PermissionClaim struct {
	Type  string
	Value string
}

// Role is a named bundle of permission claims.
type Role struct {
	ID             string
	Name           string
	NormalizedName string // unique
	Claims         []PermissionClaim
}

// DirectoryProfile holds business attributes joined 1:1 with an Account.
type DirectoryProfile struct {
	UserID      int64     // directory PK
	AccountID   uuid.UUID // FK -> accounts.id, ON DELETE CASCADE
	FirstName   string
	LastName    string
	IsActive    bool
	CreatedDate time.Time
}

// UserRow is a directory listing row (profile joined with account and role).
type UserRow struct {
	UserID      int64
	Username    string
	FirstName   string
	LastName    string
	Email       string
	IsActive    bool
	CreatedDate time.Time
	Role        string
}

// PageQuery is a filtered/sorted/paginated directory listing request.
type PageQuery struct {
	PageIndex int    `validate:"gte=0"`
	PageSize  int    `validate:"gt=0"`
	SortBy    string // logical field; resolved through an allow-list
	SortDir   string // "asc" or anything else for descending
	Search    string
	IsActive  *bool
}

// DefaultPageSize is used when a caller omits the page size.
const DefaultPageSize = 10

// PageResult is one window of directory rows plus the unwindowed match count.
type PageResult struct {
	Items     []UserRow
	Total     int
	PageIndex int
	PageSize  int
}

// Claim is a single (type, value) entry of a token's claim set.
type Claim struct {
	Type  string
	Value string
}

// ClaimSet is an ordered claim list. Duplicates are kept.
type ClaimSet []Claim

// Values returns every value of claims with the given type, in order.
func (cs ClaimSet) Values(typ string) []string {
	var out []string
	for _, c := range cs {
		if c.Type == typ {
			out = append(out, c.Value)
		}
	}
	return out
}

// First returns the first value of the given claim type.
func (cs ClaimSet) First(typ string) (string, bool) {
	for _, c := range cs {
		if c.Type == typ {
			return c.Value, true
		}
	}
	return "", false
}

// Has reports whether the set contains the exact (type, value) pair.
func (cs ClaimSet) Has(typ, value string) bool {
	for _, c := range cs {
		if c.Type == typ && c.Value == value {
			return true
		}
	}
	return false
}

// CreateAccount is the input for registering a new account with its profile.
type CreateAccount struct {
	Username  string `validate:"required,min=3"`
	Email     string `validate:"required,email"`
	Password  string `validate:"required,min=5"`
	FirstName string `validate:"required"`
	LastName  string `validate:"required"`
	IsActive  bool
	Role      string // defaults to USER
}

// UpdateAccount is a partial update; nil fields stay unchanged.
type UpdateAccount struct {
	UserID    int64   `validate:"gt=0"`
	Username  *string `validate:"omitempty,min=3"`
	Email     *string `validate:"omitempty,email"`
	FirstName *string
	LastName  *string
	IsActive  *bool
	Role      *string
}

// Normalize case-folds a username, email, or role name for unique lookups.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Standard identity claim types emitted into access tokens.
const (
	ClaimSubject        = "sub"
	ClaimNameIdentifier = "nameidentifier"
	ClaimUniqueName     = "unique_name"
	ClaimEmail          = "email"
	ClaimTokenID        = "jti"
	ClaimRole           = "role"
)

// Principal is the identity recovered from a validated access token.
type Principal struct {
	Subject   string
	Claims    ClaimSet
	ExpiresAt time.Time
}
