// Package service contains application services for authentication, role
// assignment and the user directory.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/limiter"
	"github.com/and161185/user-directory/internal/model"
)

// TokenIssuer signs an assembled claim set.
type TokenIssuer interface {
	Issue(cs model.ClaimSet) (model.Tokens, error)
}

// AuthService defines the login operation.
type AuthService interface {
	// Login applies lockout, verifies credentials and issues an access token.
	Login(ctx context.Context, username, password, peer string) (model.Tokens, error)
}

type AuthServiceImpl struct {
	verifier  *CredentialVerifier
	assembler *ClaimsAssembler
	issuer    TokenIssuer
	lim       limiter.Limiter
	log       *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(verifier *CredentialVerifier, assembler *ClaimsAssembler, issuer TokenIssuer, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{verifier: verifier, assembler: assembler, issuer: issuer, lim: lim, log: log}
}

// Login authenticates with lockout keyed by (normalized username, peer).
// A blocked caller gets no credential check.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, peer string) (model.Tokens, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return model.Tokens{}, errs.Validationf("username and password are required")
	}
	key := model.Normalize(username)
	peerHash := limiter.HashPeer(peer)

	allowed, _, err := s.lim.Allow(ctx, key, peerHash)
	if err != nil {
		s.log.Error("lockout check failed", zap.Error(err))
		return model.Tokens{}, err
	}
	if !allowed {
		return model.Tokens{}, errs.ErrRateLimited
	}

	acc, err := s.verifier.Verify(ctx, username, password)
	if errors.Is(err, errs.ErrUnauthorized) {
		blocked, _, ferr := s.lim.Failure(ctx, key, peerHash)
		if ferr != nil {
			s.log.Warn("record login failure", zap.Error(ferr))
		}
		if blocked {
			return model.Tokens{}, errs.ErrRateLimited
		}
		return model.Tokens{}, errs.ErrUnauthorized
	}
	if err != nil {
		s.log.Error("credential lookup failed", zap.Error(err))
		return model.Tokens{}, err
	}

	if err := s.lim.Success(ctx, key, peerHash); err != nil {
		s.log.Warn("reset login failures", zap.Error(err))
	}

	cs, err := s.assembler.Assemble(ctx, acc)
	if err != nil {
		s.log.Error("assemble claims", zap.String("account_id", acc.ID.String()), zap.Error(err))
		return model.Tokens{}, err
	}
	tok, err := s.issuer.Issue(cs)
	if err != nil {
		s.log.Error("issue token", zap.Error(err))
		return model.Tokens{}, err
	}
	return tok, nil
}
