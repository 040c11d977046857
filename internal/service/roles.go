package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
	"github.com/and161185/user-directory/internal/repository"
)

// Outcome describes what a role assignment changed.
type Outcome int

const (
	// Unchanged means the account already held exactly the requested role.
	Unchanged Outcome = iota
	// Assigned means the account now holds exactly the requested role.
	Assigned
)

// RoleManager keeps every account at exactly one role.
type RoleManager struct {
	repos repository.Repos
	tx    repository.Transactor // nil when the store has no transactions
	log   *zap.Logger
}

// NewRoleManager constructs a manager. tx may be nil; reassignment then runs
// its two writes without atomicity.
func NewRoleManager(repos repository.Repos, tx repository.Transactor, log *zap.Logger) *RoleManager {
	return &RoleManager{repos: repos, tx: tx, log: log}
}

// Assign gives the account the named role, dropping any other.
func (m *RoleManager) Assign(ctx context.Context, accountID uuid.UUID, role string) (Outcome, error) {
	return m.Reassign(ctx, accountID, role)
}

// Reassign makes role the account's only role. Holding exactly that role
// already is a no-op without store writes.
func (m *RoleManager) Reassign(ctx context.Context, accountID uuid.UUID, role string) (Outcome, error) {
	if m.tx == nil {
		return m.reassignWith(ctx, m.repos, accountID, role, false)
	}
	var out Outcome
	err := m.tx.InTx(ctx, func(r repository.Repos) error {
		var err error
		out, err = m.reassignWith(ctx, r, accountID, role, true)
		return err
	})
	return out, err
}

// ChangeRole reassigns the role of the account with the given username and
// returns a human-readable outcome.
func (m *RoleManager) ChangeRole(ctx context.Context, username, role string) (string, error) {
	if model.Normalize(username) == "" {
		return "", errs.Validationf("username is required")
	}
	acc, err := m.repos.Accounts.GetByUsername(ctx, model.Normalize(username))
	if err != nil {
		return "", m.fail("lookup account", err)
	}
	out, err := m.Reassign(ctx, acc.ID, role)
	if err != nil {
		return "", m.fail("change role", err)
	}
	name := model.Normalize(role)
	if out == Unchanged {
		return fmt.Sprintf("role %s is already assigned", name), nil
	}
	return fmt.Sprintf("role %s is now assigned", name), nil
}

func (m *RoleManager) fail(op string, err error) error {
	return logInternal(m.log, op, err)
}

// reassignWith adds the target role first and then removes the others. When
// atomic is false a failed removal after a successful add leaves two roles and
// is reported as errs.ErrPartialReassignment.
func (m *RoleManager) reassignWith(ctx context.Context, r repository.Repos, accountID uuid.UUID, role string, atomic bool) (Outcome, error) {
	name := model.Normalize(role)
	if name == "" {
		return Unchanged, errs.Validationf("role name is required")
	}
	target, err := r.Roles.FindByName(ctx, name)
	if errors.Is(err, errs.ErrNotFound) {
		return Unchanged, fmt.Errorf("%w: %s", errs.ErrRoleNotFound, name)
	}
	if err != nil {
		return Unchanged, err
	}

	if atomic {
		if err := r.Accounts.Lock(ctx, accountID); err != nil {
			return Unchanged, err
		}
	}

	held, err := r.Roles.RolesOf(ctx, accountID)
	if err != nil {
		return Unchanged, err
	}
	if len(held) == 1 && model.Normalize(held[0]) == target.NormalizedName {
		return Unchanged, nil
	}

	var has bool
	var others []string
	for _, h := range held {
		if n := model.Normalize(h); n == target.NormalizedName {
			has = true
		} else {
			others = append(others, n)
		}
	}

	if !has {
		if err := r.Roles.AddToRole(ctx, accountID, target.NormalizedName); err != nil {
			return Unchanged, fmt.Errorf("%w: add %s: %v", errs.ErrAssignmentFailed, target.NormalizedName, err)
		}
	}
	if len(others) > 0 {
		if err := r.Roles.RemoveFromRoles(ctx, accountID, others); err != nil {
			if !atomic && !has {
				m.log.Error("account left with more than one role",
					zap.String("account_id", accountID.String()),
					zap.String("role", target.NormalizedName),
					zap.Error(err))
				return Assigned, fmt.Errorf("%w: remove %v: %v", errs.ErrPartialReassignment, others, err)
			}
			return Unchanged, fmt.Errorf("%w: remove %v: %v", errs.ErrAssignmentFailed, others, err)
		}
	}
	return Assigned, nil
}
