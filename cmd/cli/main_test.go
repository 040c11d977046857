package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/user-directory/internal/server/grpc"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "dirctl")
}

// fakeConn records the last call and answers with a canned response.
type fakeConn struct {
	method string
	req    map[string]any
	resp   *structpb.Struct
	err    error
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.method = method
	f.req = args.(*structpb.Struct).AsMap()
	if f.err != nil {
		return f.err
	}
	if f.resp != nil {
		proto.Merge(reply.(proto.Message), f.resp)
	}
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not supported")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", fi, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_cmdLogin_SavesToken(t *testing.T) {
	_ = withTmpConfig(t)
	exp := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	resp, _ := structpb.NewStruct(map[string]any{
		"accessToken": "jwt-value",
		"expiresAt":   exp.Format(time.RFC3339),
		"tokenType":   "Bearer",
	})
	cc := &fakeConn{resp: resp}
	var out bytes.Buffer

	if err := cmdLogin(context.Background(), cc, []string{"-u", "root", "-p", "pw"}, &out); err != nil {
		t.Fatalf("login: %v", err)
	}
	if cc.method != grpcserver.FullMethod("Login") || cc.req["username"] != "root" {
		t.Fatalf("unexpected call %s %v", cc.method, cc.req)
	}
	tok, err := loadToken()
	if err != nil || tok != "jwt-value" {
		t.Fatalf("token not saved: %q %v", tok, err)
	}
	if strings.TrimSpace(out.String()) != "ok" {
		t.Fatalf("output: %q", out.String())
	}
}

func Test_cmdLogin_NeedsUsername(t *testing.T) {
	t.Parallel()
	err := cmdLogin(context.Background(), &fakeConn{}, []string{"-p", "pw"}, &bytes.Buffer{})
	if !errors.Is(err, errUsage) {
		t.Fatalf("want usage error, got %v", err)
	}
}

func Test_cmdPasswd_PromptsForPassword(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return []byte("typed-secret"), nil }

	cc := &fakeConn{}
	if err := cmdPasswd(context.Background(), cc, []string{"-id", "3"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("passwd: %v", err)
	}
	if cc.req["password"] != "typed-secret" || cc.req["userId"] != float64(3) {
		t.Fatalf("unexpected request: %v", cc.req)
	}

	readPassword = func(int) ([]byte, error) { return nil, errors.New("not a terminal") }
	cc = &fakeConn{}
	if err := cmdLogin(context.Background(), cc, []string{"-u", "root"}, &bytes.Buffer{}); err == nil || cc.method != "" {
		t.Fatalf("prompt failure must abort before rpc: %v", err)
	}
}

func Test_cmdUsers_BuildsQuery(t *testing.T) {
	t.Parallel()
	resp, _ := structpb.NewStruct(map[string]any{"total": 3})
	cc := &fakeConn{resp: resp}
	var out bytes.Buffer

	err := cmdUsers(context.Background(), cc, []string{"-page", "2", "-size", "5", "-sort", "email", "-dir", "asc", "-q", "ann", "-active", "false"}, &out)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	want := map[string]any{
		"pageIndex": float64(2), "pageSize": float64(5), "sortBy": "email",
		"sortDir": "asc", "search": "ann", "isActive": false,
	}
	for k, v := range want {
		if cc.req[k] != v {
			t.Fatalf("%s = %v, want %v", k, cc.req[k], v)
		}
	}
	var printed map[string]any
	if err := json.Unmarshal(out.Bytes(), &printed); err != nil || printed["total"] != float64(3) {
		t.Fatalf("printed: %s", out.String())
	}

	if err := cmdUsers(context.Background(), cc, []string{"-active", "maybe"}, &out); !errors.Is(err, errUsage) {
		t.Fatalf("bad -active: %v", err)
	}
}

func Test_cmdGet_ByIDOrUsername(t *testing.T) {
	t.Parallel()
	cc := &fakeConn{}

	if err := cmdGet(context.Background(), cc, []string{"-id", "7"}, &bytes.Buffer{}); err != nil || cc.method != grpcserver.FullMethod("GetUser") {
		t.Fatalf("by id: %s %v", cc.method, err)
	}
	if err := cmdGet(context.Background(), cc, []string{"-u", "anna"}, &bytes.Buffer{}); err != nil || cc.method != grpcserver.FullMethod("GetUserByUsername") {
		t.Fatalf("by username: %s %v", cc.method, err)
	}
	if err := cmdGet(context.Background(), cc, nil, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("no selector: %v", err)
	}
}

func Test_cmdUpdate_SendsOnlySetFields(t *testing.T) {
	t.Parallel()
	cc := &fakeConn{}

	err := cmdUpdate(context.Background(), cc, []string{"-id", "4", "-last", "", "-role", "supervisor", "-active", "true"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := cc.req["firstName"]; ok {
		t.Fatalf("unset field sent: %v", cc.req)
	}
	if v, ok := cc.req["lastName"]; !ok || v != "" {
		t.Fatalf("explicit empty lastName missing: %v", cc.req)
	}
	if cc.req["role"] != "supervisor" || cc.req["isActive"] != true || cc.req["userId"] != float64(4) {
		t.Fatalf("unexpected request: %v", cc.req)
	}
}

func Test_cmdCreate_PassesRPCError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	cc := &fakeConn{err: boom}

	err := cmdCreate(context.Background(), cc, []string{"-u", "anna", "-e", "a@x.io", "-p", "secret", "-inactive"}, &bytes.Buffer{})
	if !errors.Is(err, boom) {
		t.Fatalf("want rpc error, got %v", err)
	}
	if cc.req["isActive"] != false || cc.req["role"] != "" {
		t.Fatalf("unexpected request: %v", cc.req)
	}
}

func Test_commands_ValidateRequiredFlags(t *testing.T) {
	t.Parallel()
	cases := map[string][]string{
		"create": {"-u", "anna", "-p", "x"},
		"update": {"-u", "anna"},
		"passwd": {"-p", "x"},
		"rm":     nil,
		"role":   {"-u", "anna"},
	}
	for name, args := range cases {
		cc := &fakeConn{}
		if err := commands[name](context.Background(), cc, args, &bytes.Buffer{}); !errors.Is(err, errUsage) {
			t.Fatalf("%s: want usage error, got %v", name, err)
		}
		if cc.method != "" {
			t.Fatalf("%s: rpc issued despite bad args", name)
		}
	}
}

func Test_cmdRole_And_Rm(t *testing.T) {
	t.Parallel()
	resp, _ := structpb.NewStruct(map[string]any{"message": "role ADMIN is now assigned"})
	cc := &fakeConn{resp: resp}
	var out bytes.Buffer

	if err := cmdRole(context.Background(), cc, []string{"-u", "anna", "-role", "ADMIN"}, &out); err != nil {
		t.Fatalf("role: %v", err)
	}
	if !strings.Contains(out.String(), "now assigned") {
		t.Fatalf("output: %s", out.String())
	}
	if err := cmdRm(context.Background(), cc, []string{"-id", "9"}, &out); err != nil || cc.method != grpcserver.FullMethod("DeleteUser") {
		t.Fatalf("rm: %s %v", cc.method, err)
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T"}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("bearerCreds must require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}
	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}
	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}
