package token

import (
	"bytes"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
)

var testKey = bytes.Repeat([]byte("k"), 32)

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	i, err := NewIssuer(testKey, "directory", "directory-clients")
	require.NoError(t, err)
	i.now = func() time.Time { return now }
	return i
}

func sampleClaims() model.ClaimSet {
	return model.ClaimSet{
		{Type: model.ClaimSubject, Value: "acc-1"},
		{Type: model.ClaimUniqueName, Value: "alice"},
		{Type: model.ClaimRole, Value: "ADMIN"},
		{Type: model.ClaimRole, Value: "USER"},
		{Type: model.ClaimTypePermission, Value: "users.read"},
		{Type: model.ClaimTypePermission, Value: "users.read"},
	}
}

func TestNewIssuer_RejectsShortKey(t *testing.T) {
	_, err := NewIssuer([]byte("short"), "i", "a")
	require.ErrorIs(t, err, errs.ErrMisconfigured)

	_, err = NewIssuer(testKey, "", "a")
	require.ErrorIs(t, err, errs.ErrMisconfigured)
}

func TestIssue_Parse_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	i := newTestIssuer(t, now)

	tok, err := i.Issue(sampleClaims())
	require.NoError(t, err)
	require.Equal(t, now.Add(15*time.Minute), tok.ExpiresAt)

	p, err := i.Parse(tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "acc-1", p.Subject)
	require.Equal(t, []string{"ADMIN", "USER"}, p.Claims.Values(model.ClaimRole))
	require.Equal(t, []string{"users.read", "users.read"}, p.Claims.Values(model.ClaimTypePermission))
	require.True(t, p.ExpiresAt.Equal(tok.ExpiresAt))
}

func TestIssue_LifetimeIsExactlyFifteenMinutes(t *testing.T) {
	i := newTestIssuer(t, time.Now())
	tok, err := i.Issue(sampleClaims())
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok.AccessToken, claims)
	require.NoError(t, err)
	iat, err := claims.GetIssuedAt()
	require.NoError(t, err)
	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	require.Equal(t, 900*time.Second, exp.Sub(iat.Time))

	// single-valued type is a plain string, multi-valued is an array
	require.Equal(t, "alice", claims[model.ClaimUniqueName])
	require.IsType(t, []any{}, claims[model.ClaimRole])
}

func TestParse_ExpiredWithZeroLeeway(t *testing.T) {
	now := time.Now()
	i := newTestIssuer(t, now)
	tok, err := i.Issue(sampleClaims())
	require.NoError(t, err)

	i.now = func() time.Time { return now.Truncate(time.Second).Add(TTL + time.Second) }
	_, err = i.Parse(tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestParse_WrongIssuerOrAudience(t *testing.T) {
	now := time.Now()
	i := newTestIssuer(t, now)
	tok, err := i.Issue(sampleClaims())
	require.NoError(t, err)

	other, err := NewIssuer(testKey, "someone-else", "directory-clients")
	require.NoError(t, err)
	_, err = other.Parse(tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	other, err = NewIssuer(testKey, "directory", "another-audience")
	require.NoError(t, err)
	_, err = other.Parse(tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestParse_RejectsOtherKeysAndAlgorithms(t *testing.T) {
	i := newTestIssuer(t, time.Now())

	forged, err := NewIssuer(bytes.Repeat([]byte("x"), 32), "directory", "directory-clients")
	require.NoError(t, err)
	tok, err := forged.Issue(sampleClaims())
	require.NoError(t, err)
	_, err = i.Parse(tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "acc-1", "iss": "directory", "aud": "directory-clients",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(testKey)
	require.NoError(t, err)
	_, err = i.Parse(hs512)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = i.Parse("not-a-token")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestParse_MissingExpRejected(t *testing.T) {
	i := newTestIssuer(t, time.Now())
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "acc-1", "iss": "directory", "aud": "directory-clients",
	}).SignedString(testKey)
	require.NoError(t, err)

	_, err = i.Parse(raw)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}
