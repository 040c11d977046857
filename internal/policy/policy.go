// Package policy evaluates named authorization policies against a claim set.
package policy

import (
	"fmt"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
)

// Policy names guarding directory operations.
const (
	ReadUsers  = "Users.Read"
	WriteUsers = "Users.Write"
	AdminUsers = "Users.Admin"
)

// Policy is satisfied when the claim set holds any listed role or any listed permission.
type Policy struct {
	Name        string
	Roles       []string
	Permissions []string
}

// Allows reports whether cs satisfies p. Matching is exact.
func (p Policy) Allows(cs model.ClaimSet) bool {
	for _, r := range p.Roles {
		if cs.Has(model.ClaimRole, r) {
			return true
		}
	}
	for _, perm := range p.Permissions {
		if cs.Has(model.ClaimTypePermission, perm) {
			return true
		}
	}
	return false
}

// Evaluator holds a fixed set of policies keyed by name.
type Evaluator struct {
	byName map[string]Policy
}

// NewEvaluator builds an evaluator; empty or duplicate names are rejected.
func NewEvaluator(ps ...Policy) (*Evaluator, error) {
	e := &Evaluator{byName: make(map[string]Policy, len(ps))}
	for _, p := range ps {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: policy without a name", errs.ErrMisconfigured)
		}
		if _, dup := e.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate policy %q", errs.ErrMisconfigured, p.Name)
		}
		e.byName[p.Name] = p
	}
	return e, nil
}

// Default returns the directory's built-in policies.
func Default() *Evaluator {
	e, err := NewEvaluator(
		Policy{
			Name:        ReadUsers,
			Roles:       []string{model.RoleAdmin, model.RoleSupervisor},
			Permissions: []string{model.PermUsersRead},
		},
		Policy{
			Name:        WriteUsers,
			Roles:       []string{model.RoleAdmin},
			Permissions: []string{model.PermUsersWrite},
		},
		// account lifecycle and role changes stay with ADMIN
		Policy{
			Name:  AdminUsers,
			Roles: []string{model.RoleAdmin},
		},
	)
	if err != nil {
		panic(err)
	}
	return e
}

// Require fails when any name is not a known policy.
func (e *Evaluator) Require(names ...string) error {
	for _, n := range names {
		if _, ok := e.byName[n]; !ok {
			return fmt.Errorf("%w: unknown policy %q", errs.ErrMisconfigured, n)
		}
	}
	return nil
}

// Evaluate reports whether cs satisfies the named policy.
func (e *Evaluator) Evaluate(name string, cs model.ClaimSet) (bool, error) {
	p, ok := e.byName[name]
	if !ok {
		return false, fmt.Errorf("%w: unknown policy %q", errs.ErrMisconfigured, name)
	}
	return p.Allows(cs), nil
}
