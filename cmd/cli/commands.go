package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/user-directory/internal/server/grpc"
)

// command runs one subcommand against an established connection.
type command func(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error

var commands = map[string]command{
	"login":  cmdLogin,
	"me":     cmdMe,
	"users":  cmdUsers,
	"get":    cmdGet,
	"roles":  cmdRoles,
	"create": cmdCreate,
	"update": cmdUpdate,
	"passwd": cmdPasswd,
	"rm":     cmdRm,
	"role":   cmdRole,
}

var errUsage = errors.New("invalid arguments")

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// call invokes a Directory method and prints the response as JSON.
func call(ctx context.Context, cc grpc.ClientConnInterface, out io.Writer, method string, req map[string]any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return err
	}
	resp, err := grpcserver.Invoke(ctx, cc, method, in)
	if err != nil {
		return err
	}
	printJSON(out, resp.AsMap())
	return nil
}

func cmdLogin(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("login")
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" {
		return fmt.Errorf("%w: need -u", errUsage)
	}
	pw, err := passwordOr(*p, os.Stderr)
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"username": *u, "password": pw})
	if err != nil {
		return err
	}
	resp, err := grpcserver.Invoke(ctx, cc, "Login", in)
	if err != nil {
		return err
	}
	tok := resp.GetFields()["accessToken"].GetStringValue()
	if tok == "" {
		return errors.New("server returned no token")
	}
	exp, err := time.Parse(time.RFC3339, resp.GetFields()["expiresAt"].GetStringValue())
	if err != nil {
		exp = time.Now().Add(15 * time.Minute)
	}
	if err := saveToken(tok, exp); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func cmdMe(ctx context.Context, cc grpc.ClientConnInterface, _ []string, out io.Writer) error {
	return call(ctx, cc, out, "Me", nil)
}

func cmdUsers(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("users")
	page := fs.Int("page", 0, "page index")
	size := fs.Int("size", 10, "page size")
	sortBy := fs.String("sort", "", "sort field")
	dir := fs.String("dir", "", "asc or desc")
	q := fs.String("q", "", "search text")
	active := fs.String("active", "", "true or false")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req := map[string]any{"pageIndex": *page, "pageSize": *size}
	if *sortBy != "" {
		req["sortBy"] = *sortBy
	}
	if *dir != "" {
		req["sortDir"] = *dir
	}
	if *q != "" {
		req["search"] = *q
	}
	if *active != "" {
		b, err := strconv.ParseBool(*active)
		if err != nil {
			return fmt.Errorf("%w: -active: %v", errUsage, err)
		}
		req["isActive"] = b
	}
	return call(ctx, cc, out, "ListUsers", req)
}

func cmdGet(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("get")
	id := fs.Int64("id", 0, "user id")
	u := fs.String("u", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *id > 0:
		return call(ctx, cc, out, "GetUser", map[string]any{"userId": *id})
	case *u != "":
		return call(ctx, cc, out, "GetUserByUsername", map[string]any{"username": *u})
	default:
		return fmt.Errorf("%w: need -id or -u", errUsage)
	}
}

func cmdRoles(ctx context.Context, cc grpc.ClientConnInterface, _ []string, out io.Writer) error {
	return call(ctx, cc, out, "ListRoles", nil)
}

func cmdCreate(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("create")
	u := fs.String("u", "", "username")
	e := fs.String("e", "", "email")
	p := fs.String("p", "", "password (prompted when empty)")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	role := fs.String("role", "", "role (default USER)")
	inactive := fs.Bool("inactive", false, "create disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *e == "" {
		return fmt.Errorf("%w: need -u and -e", errUsage)
	}
	pw, err := passwordOr(*p, os.Stderr)
	if err != nil {
		return err
	}
	return call(ctx, cc, out, "CreateUser", map[string]any{
		"username":  *u,
		"email":     *e,
		"password":  pw,
		"firstName": *first,
		"lastName":  *last,
		"role":      *role,
		"isActive":  !*inactive,
	})
}

func cmdUpdate(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("update")
	id := fs.Int64("id", 0, "user id")
	fields := map[string]*string{
		"username":  fs.String("u", "", "username"),
		"email":     fs.String("e", "", "email"),
		"firstName": fs.String("first", "", "first name"),
		"lastName":  fs.String("last", "", "last name"),
		"role":      fs.String("role", "", "role"),
	}
	flagOf := map[string]string{"username": "u", "email": "e", "firstName": "first", "lastName": "last", "role": "role"}
	active := fs.String("active", "", "true or false")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("%w: need -id", errUsage)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	req := map[string]any{"userId": *id}
	for key, v := range fields {
		if set[flagOf[key]] {
			req[key] = *v
		}
	}
	if set["active"] {
		b, err := strconv.ParseBool(*active)
		if err != nil {
			return fmt.Errorf("%w: -active: %v", errUsage, err)
		}
		req["isActive"] = b
	}
	return call(ctx, cc, out, "UpdateUser", req)
}

func cmdPasswd(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("passwd")
	id := fs.Int64("id", 0, "user id")
	p := fs.String("p", "", "new password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("%w: need -id", errUsage)
	}
	pw, err := passwordOr(*p, os.Stderr)
	if err != nil {
		return err
	}
	return call(ctx, cc, out, "ChangePassword", map[string]any{"userId": *id, "password": pw})
}

func cmdRm(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("rm")
	id := fs.Int64("id", 0, "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("%w: need -id", errUsage)
	}
	return call(ctx, cc, out, "DeleteUser", map[string]any{"userId": *id})
}

func cmdRole(ctx context.Context, cc grpc.ClientConnInterface, args []string, out io.Writer) error {
	fs := newFlagSet("role")
	u := fs.String("u", "", "username")
	role := fs.String("role", "", "role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *role == "" {
		return fmt.Errorf("%w: need -u and -role", errUsage)
	}
	return call(ctx, cc, out, "ChangeRole", map[string]any{"username": *u, "role": *role})
}
