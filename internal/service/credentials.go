package service

import (
	"context"
	"errors"

	pkgcrypto "github.com/and161185/user-directory/internal/crypto"
	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
	"github.com/and161185/user-directory/internal/repository"
)

// CredentialVerifier checks a username/password pair against stored credentials.
type CredentialVerifier struct {
	accounts repository.AccountRepository
}

// NewCredentialVerifier constructs a verifier over the account store.
func NewCredentialVerifier(accounts repository.AccountRepository) *CredentialVerifier {
	return &CredentialVerifier{accounts: accounts}
}

// Verify returns the account when password matches. Unknown username and wrong
// password both yield errs.ErrUnauthorized after one full Argon2id run.
// Store failures propagate unchanged.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (*model.Account, error) {
	acc, err := v.accounts.GetByUsername(ctx, model.Normalize(username))
	if errors.Is(err, errs.ErrNotFound) {
		pkgcrypto.VerifyDummy([]byte(password))
		return nil, errs.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !pkgcrypto.VerifyPassword([]byte(password), acc.SaltAuth, acc.PwdHash) {
		return nil, errs.ErrUnauthorized
	}
	return acc, nil
}
