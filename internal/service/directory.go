package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/user-directory/internal/crypto"
	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
	"github.com/and161185/user-directory/internal/repository"
)

// DirectoryService serves directory listing and account administration.
type DirectoryService struct {
	repos    repository.Repos
	tx       repository.Transactor
	roles    *RoleManager
	validate *validator.Validate
	log      *zap.Logger
}

// NewDirectoryService constructs the service. tx may be nil.
func NewDirectoryService(repos repository.Repos, tx repository.Transactor, roles *RoleManager, log *zap.Logger) *DirectoryService {
	return &DirectoryService{repos: repos, tx: tx, roles: roles, validate: newValidator(), log: log}
}

type passwordInput struct {
	Password string `validate:"required,min=5"`
}

func (s *DirectoryService) inTx(ctx context.Context, fn func(repository.Repos) error) error {
	if s.tx == nil {
		return fn(s.repos)
	}
	return s.tx.InTx(ctx, fn)
}

// fail logs internal errors once at the service boundary.
func (s *DirectoryService) fail(op string, err error) error {
	return logInternal(s.log, op, err)
}

// logInternal logs err at Error level when it is internal. A partial role
// reassignment was already logged with its account where it happened.
func logInternal(log *zap.Logger, op string, err error) error {
	if errs.KindOf(err) == errs.KindInternal && !errors.Is(err, errs.ErrPartialReassignment) {
		log.Error(op, zap.Error(err))
	}
	return err
}

// Query returns one page of the directory. Invalid windows are rejected
// before the store is touched.
func (s *DirectoryService) Query(ctx context.Context, q model.PageQuery) (model.PageResult, error) {
	if err := s.validate.Struct(q); err != nil {
		return model.PageResult{}, validationError(err)
	}
	if q.PageIndex > math.MaxInt/q.PageSize {
		return model.PageResult{}, errs.Validationf("pageIndex %d is out of range for pageSize %d", q.PageIndex, q.PageSize)
	}
	items, total, err := s.repos.Directory.Query(ctx, q)
	if err != nil {
		return model.PageResult{}, s.fail("query directory", err)
	}
	return model.PageResult{Items: items, Total: total, PageIndex: q.PageIndex, PageSize: q.PageSize}, nil
}

// GetByID loads a directory row by user id.
func (s *DirectoryService) GetByID(ctx context.Context, userID int64) (*model.UserRow, error) {
	if userID <= 0 {
		return nil, errs.Validationf("userId must be > 0, got %d", userID)
	}
	u, err := s.repos.Directory.GetByUserID(ctx, userID)
	if err != nil {
		return nil, s.fail("get user", err)
	}
	return u, nil
}

// GetByUsername loads a directory row by username.
func (s *DirectoryService) GetByUsername(ctx context.Context, username string) (*model.UserRow, error) {
	name := model.Normalize(username)
	if name == "" {
		return nil, errs.Validationf("username is required")
	}
	u, err := s.repos.Directory.GetByUsername(ctx, name)
	if err != nil {
		return nil, s.fail("get user by username", err)
	}
	return u, nil
}

// GetCurrent loads the directory row of an authenticated account.
func (s *DirectoryService) GetCurrent(ctx context.Context, accountID uuid.UUID) (*model.UserRow, error) {
	u, err := s.repos.Directory.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, s.fail("get current user", err)
	}
	return u, nil
}

// ListRoles returns the role catalog with permission claims.
func (s *DirectoryService) ListRoles(ctx context.Context) ([]model.Role, error) {
	roles, err := s.repos.Roles.List(ctx)
	if err != nil {
		return nil, s.fail("list roles", err)
	}
	for i := range roles {
		claims, err := s.repos.Roles.Claims(ctx, roles[i].ID)
		if err != nil {
			return nil, s.fail("list role claims", err)
		}
		roles[i].Claims = claims
	}
	return roles, nil
}

// Create registers an account with its single role and directory profile in
// one transaction and returns the new directory user id.
func (s *DirectoryService) Create(ctx context.Context, in model.CreateAccount) (int64, error) {
	if err := s.validate.Struct(in); err != nil {
		return 0, validationError(err)
	}
	role := model.Normalize(in.Role)
	if role == "" {
		role = model.RoleUser
	}

	hash, salt, err := pkgcrypto.NewCredentials(in.Password)
	if err != nil {
		return 0, s.fail("hash password", err)
	}
	stamp, err := pkgcrypto.NewSecurityStamp()
	if err != nil {
		return 0, s.fail("security stamp", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return 0, s.fail("account id", err)
	}

	var userID int64
	err = s.inTx(ctx, func(r repository.Repos) error {
		nu, ne := model.Normalize(in.Username), model.Normalize(in.Email)
		if taken, err := r.Accounts.UsernameTaken(ctx, nu, uuid.Nil); err != nil {
			return err
		} else if taken {
			return errs.Conflictf("username already exists")
		}
		if taken, err := r.Accounts.EmailTaken(ctx, ne, uuid.Nil); err != nil {
			return err
		} else if taken {
			return errs.Conflictf("email already exists")
		}

		acc := &model.Account{
			ID:                 id,
			Username:           strings.TrimSpace(in.Username),
			NormalizedUsername: nu,
			Email:              strings.TrimSpace(in.Email),
			NormalizedEmail:    ne,
			EmailConfirmed:     true,
			PwdHash:            hash,
			SaltAuth:           salt,
			SecurityStamp:      stamp,
		}
		if err := r.Accounts.Create(ctx, acc); err != nil {
			return err
		}
		if _, err := s.roles.reassignWith(ctx, r, id, role, s.tx != nil); err != nil {
			return err
		}
		p := &model.DirectoryProfile{
			AccountID: id,
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			IsActive:  in.IsActive,
		}
		uid, err := r.Directory.CreateProfile(ctx, p)
		if err != nil {
			return err
		}
		userID = uid
		return nil
	})
	if err != nil {
		return 0, s.fail("create account", err)
	}
	s.log.Info("account created", zap.Int64("user_id", userID), zap.String("role", role))
	return userID, nil
}

// Update applies a partial update. Nil fields stay unchanged; a username or
// email change rotates the security stamp.
func (s *DirectoryService) Update(ctx context.Context, in model.UpdateAccount) error {
	if err := s.validate.Struct(in); err != nil {
		return validationError(err)
	}
	err := s.inTx(ctx, func(r repository.Repos) error {
		accID, err := r.Directory.AccountIDOf(ctx, in.UserID)
		if err != nil {
			return err
		}

		if in.Username != nil || in.Email != nil {
			acc, err := r.Accounts.GetByID(ctx, accID)
			if err != nil {
				return err
			}
			changed := false
			if in.Username != nil {
				if nu := model.Normalize(*in.Username); nu != acc.NormalizedUsername {
					taken, err := r.Accounts.UsernameTaken(ctx, nu, accID)
					if err != nil {
						return err
					}
					if taken {
						return errs.Conflictf("username already exists")
					}
					acc.Username, acc.NormalizedUsername, changed = strings.TrimSpace(*in.Username), nu, true
				}
			}
			if in.Email != nil {
				if ne := model.Normalize(*in.Email); ne != acc.NormalizedEmail {
					taken, err := r.Accounts.EmailTaken(ctx, ne, accID)
					if err != nil {
						return err
					}
					if taken {
						return errs.Conflictf("email already exists")
					}
					acc.Email, acc.NormalizedEmail, changed = strings.TrimSpace(*in.Email), ne, true
				}
			}
			if changed {
				if acc.SecurityStamp, err = pkgcrypto.NewSecurityStamp(); err != nil {
					return err
				}
				if err := r.Accounts.UpdateIdentity(ctx, acc); err != nil {
					return err
				}
			}
		}

		if in.Role != nil && strings.TrimSpace(*in.Role) != "" {
			if _, err := s.roles.reassignWith(ctx, r, accID, *in.Role, s.tx != nil); err != nil {
				return err
			}
		}

		if in.FirstName != nil || in.LastName != nil || in.IsActive != nil {
			return r.Directory.UpdateProfile(ctx, in.UserID, trimmed(in.FirstName), trimmed(in.LastName), in.IsActive)
		}
		return nil
	})
	if err != nil {
		return s.fail("update account", err)
	}
	return nil
}

// ChangePassword rehashes with a fresh salt and rotates the security stamp.
func (s *DirectoryService) ChangePassword(ctx context.Context, userID int64, password string) error {
	if userID <= 0 {
		return errs.Validationf("userId must be > 0, got %d", userID)
	}
	if err := s.validate.Struct(passwordInput{Password: password}); err != nil {
		return validationError(err)
	}
	accID, err := s.repos.Directory.AccountIDOf(ctx, userID)
	if err != nil {
		return s.fail("change password", err)
	}
	hash, salt, err := pkgcrypto.NewCredentials(password)
	if err != nil {
		return s.fail("hash password", err)
	}
	stamp, err := pkgcrypto.NewSecurityStamp()
	if err != nil {
		return s.fail("security stamp", err)
	}
	if err := s.repos.Accounts.UpdatePassword(ctx, accID, hash, salt, stamp); err != nil {
		return s.fail("change password", err)
	}
	return nil
}

// Delete removes the account behind userID together with its profile.
func (s *DirectoryService) Delete(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return errs.Validationf("userId must be > 0, got %d", userID)
	}
	if err := s.repos.Directory.DeleteAccount(ctx, userID); err != nil {
		return s.fail("delete account", err)
	}
	s.log.Info("account deleted", zap.Int64("user_id", userID))
	return nil
}

// EnsureAdmin creates an ADMIN account with the given credentials unless the
// username already exists. It reports whether an account was created.
func (s *DirectoryService) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.repos.Accounts.GetByUsername(ctx, model.Normalize(username))
	if err == nil {
		return false, nil
	}
	if errs.KindOf(err) != errs.KindNotFound {
		return false, s.fail("lookup bootstrap admin", err)
	}
	_, err = s.Create(ctx, model.CreateAccount{
		Username:  username,
		Email:     strings.ToLower(strings.TrimSpace(username)) + "@directory.local",
		Password:  password,
		FirstName: "System",
		LastName:  "Administrator",
		IsActive:  true,
		Role:      model.RoleAdmin,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}
