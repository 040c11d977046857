// Package token issues and validates HS256 access tokens carrying a claim set.
package token

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
)

// TTL is the fixed lifetime of an access token.
const TTL = 15 * time.Minute

// MinKeyLen is the smallest accepted HMAC key in bytes.
const MinKeyLen = 32

// registered claims are owned by the issuer and never copied into a ClaimSet.
var registered = map[string]struct{}{
	"iss": {}, "aud": {}, "iat": {}, "nbf": {}, "exp": {},
}

// Issuer signs and validates access tokens with one symmetric key.
type Issuer struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewIssuer constructs an Issuer. Keys shorter than MinKeyLen are rejected.
func NewIssuer(key []byte, issuer, audience string) (*Issuer, error) {
	if len(key) < MinKeyLen {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes, got %d", errs.ErrMisconfigured, MinKeyLen, len(key))
	}
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", errs.ErrMisconfigured)
	}
	return &Issuer{key: append([]byte(nil), key...), issuer: issuer, audience: audience, now: time.Now}, nil
}

// Issue signs cs into a token that expires TTL after issuance.
// A claim type with one value is encoded as a string, several as an array.
func (i *Issuer) Issue(cs model.ClaimSet) (model.Tokens, error) {
	claims := jwt.MapClaims{}
	for _, c := range cs {
		if _, ok := registered[c.Type]; ok {
			continue
		}
		switch v := claims[c.Type].(type) {
		case nil:
			claims[c.Type] = c.Value
		case string:
			claims[c.Type] = []string{v, c.Value}
		case []string:
			claims[c.Type] = append(v, c.Value)
		}
	}

	now := i.now().Truncate(time.Second)
	exp := now.Add(TTL)
	claims["iss"] = i.issuer
	claims["aud"] = i.audience
	claims["iat"] = jwt.NewNumericDate(now)
	claims["nbf"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(exp)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates the signature, issuer, audience and lifetime with zero
// leeway and returns the carried claims. Any failure wraps errs.ErrUnauthorized.
func (i *Issuer) Parse(raw string) (*model.Principal, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	claims := jwt.MapClaims{}
	if _, err := p.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return i.key, nil }); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing exp", errs.ErrUnauthorized)
	}

	keys := make([]string, 0, len(claims))
	for k := range claims {
		if _, ok := registered[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var cs model.ClaimSet
	for _, k := range keys {
		switch v := claims[k].(type) {
		case string:
			cs = append(cs, model.Claim{Type: k, Value: v})
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok {
					cs = append(cs, model.Claim{Type: k, Value: s})
				}
			}
		}
	}

	sub, _ := cs.First(model.ClaimSubject)
	return &model.Principal{Subject: sub, Claims: cs, ExpiresAt: exp.Time}, nil
}
