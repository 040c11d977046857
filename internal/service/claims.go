package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
	"github.com/and161185/user-directory/internal/repository"
)

// ClaimsAssembler derives the token claim set of a verified account.
type ClaimsAssembler struct {
	roles repository.RoleRepository
	log   *zap.Logger
	newID func() (uuid.UUID, error)
}

// NewClaimsAssembler constructs an assembler over the role store.
func NewClaimsAssembler(roles repository.RoleRepository, log *zap.Logger) *ClaimsAssembler {
	return &ClaimsAssembler{roles: roles, log: log, newID: uuid.NewV4}
}

// Assemble emits identity claims, one role claim per held role, then every
// permission claim of each role in role-name then claim-id order. Duplicates
// across roles are kept. A held role with no role record contributes its
// role claim but no permissions.
func (a *ClaimsAssembler) Assemble(ctx context.Context, acc *model.Account) (model.ClaimSet, error) {
	jti, err := a.newID()
	if err != nil {
		return nil, err
	}
	sub := acc.ID.String()
	cs := model.ClaimSet{
		{Type: model.ClaimSubject, Value: sub},
		{Type: model.ClaimNameIdentifier, Value: sub},
		{Type: model.ClaimUniqueName, Value: acc.Username},
		{Type: model.ClaimEmail, Value: acc.Email},
		{Type: model.ClaimTokenID, Value: jti.String()},
	}

	held, err := a.roles.RolesOf(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	for _, name := range held {
		cs = append(cs, model.Claim{Type: model.ClaimRole, Value: name})
	}

	for _, name := range held {
		role, err := a.roles.FindByName(ctx, model.Normalize(name))
		if errors.Is(err, errs.ErrNotFound) {
			a.log.Warn("assigned role has no role record; permissions skipped",
				zap.String("account_id", sub), zap.String("role", name))
			continue
		}
		if err != nil {
			return nil, err
		}
		perms, err := a.roles.Claims(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			cs = append(cs, model.Claim{Type: p.Type, Value: p.Value})
		}
	}
	return cs, nil
}
