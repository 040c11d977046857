package config

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/user-directory/internal/errs"
)

var goodSecret = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), 32))

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DIR_JWT_SECRET", goodSecret)

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, ":8443", cfg.Addr)
	require.Len(t, cfg.JWTSecret, 32)
	require.Equal(t, 5, cfg.LoginMaxFails)
	require.Equal(t, 15*time.Minute, cfg.LoginWindow)
	require.False(t, cfg.Dev)
	require.Empty(t, cfg.AdminUser)
	require.Empty(t, cfg.RedisURL)
	require.Empty(t, cfg.MetricsAddr)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("DIR_JWT_SECRET", goodSecret)
	t.Setenv("DIR_ADDR", ":9000")
	t.Setenv("DIR_DEV", "true")
	t.Setenv("DIR_LOGIN_WINDOW", "1m")
	t.Setenv("DIR_REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load([]string{"--addr", ":9100", "--login-max-fails", "0", "--bootstrap-admin", "root:s3cret:x"})
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.Addr)
	require.True(t, cfg.Dev)
	require.Equal(t, time.Minute, cfg.LoginWindow)
	require.Zero(t, cfg.LoginMaxFails)
	require.Equal(t, "root", cfg.AdminUser)
	require.Equal(t, "s3cret:x", cfg.AdminPassword)
	require.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
}

func TestLoad_Misconfigured(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	cases := []struct {
		name string
		args []string
	}{
		{"missing secret", nil},
		{"not base64", []string{"--jwt-secret", "%%%"}},
		{"short secret", []string{"--jwt-secret", short}},
		{"bad admin", []string{"--jwt-secret", goodSecret, "--bootstrap-admin", "root"}},
		{"negative fails", []string{"--jwt-secret", goodSecret, "--login-max-fails", "-1"}},
		{"zero window", []string{"--jwt-secret", goodSecret, "--login-window", "0s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DIR_JWT_SECRET", "")
			_, err := Load(tc.args)
			require.ErrorIs(t, err, errs.ErrMisconfigured)
		})
	}
}

func TestLoad_UnknownFlag(t *testing.T) {
	t.Setenv("DIR_JWT_SECRET", goodSecret)
	_, err := Load([]string{"--nope"})
	require.Error(t, err)
}
