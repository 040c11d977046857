// Package grpcserver exposes the user directory gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/user-directory/internal/convert"
	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
	"github.com/and161185/user-directory/internal/policy"
	"github.com/and161185/user-directory/internal/service"
)

// Directory is the directory and account administration surface.
type Directory interface {
	Query(ctx context.Context, q model.PageQuery) (model.PageResult, error)
	GetByID(ctx context.Context, userID int64) (*model.UserRow, error)
	GetByUsername(ctx context.Context, username string) (*model.UserRow, error)
	GetCurrent(ctx context.Context, accountID uuid.UUID) (*model.UserRow, error)
	ListRoles(ctx context.Context) ([]model.Role, error)
	Create(ctx context.Context, in model.CreateAccount) (int64, error)
	Update(ctx context.Context, in model.UpdateAccount) error
	ChangePassword(ctx context.Context, userID int64, password string) error
	Delete(ctx context.Context, userID int64) error
}

// RoleChanger reassigns an account's role by username.
type RoleChanger interface {
	ChangeRole(ctx context.Context, username, role string) (string, error)
}

// Server wires services into gRPC handlers.
type Server struct {
	auth  service.AuthService
	dir   Directory
	roles RoleChanger
	ev    *policy.Evaluator
	log   *zap.Logger
}

var _ DirectoryServer = (*Server)(nil)

// New constructs a gRPC handler set with injected services.
func New(auth service.AuthService, dir Directory, roles RoleChanger, log *zap.Logger) *Server {
	return &Server{auth: auth, dir: dir, roles: roles, log: log}
}

// NewGRPCServer builds a grpc.Server with the interceptor chain, the
// Directory service and health registered. It fails when a method is gated
// by a policy the evaluator does not know.
func NewGRPCServer(srv *Server, tokens TokenParser, ev *policy.Evaluator, log *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server, error) {
	auth, err := AuthUnary(tokens, ev)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		auth,
	))
	srv.ev = ev
	gs := grpc.NewServer(opts...)
	RegisterDirectoryServer(gs, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs, nil
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}
	return ""
}

// toStatus maps domain errors to gRPC status without leaking internals.
// Internal errors are logged by the service that produced them.
func toStatus(err error) error {
	switch errs.KindOf(err) {
	case errs.KindUnauthenticated:
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errs.KindUnauthorized:
		return status.Error(codes.PermissionDenied, "forbidden")
	case errs.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case errs.KindNotFound:
		return status.Error(codes.NotFound, "not found")
	case errs.KindConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	case errs.KindRateLimited:
		return status.Error(codes.ResourceExhausted, "rate limited")
	default:
		return status.Error(codes.Internal, "internal")
	}
}

func (s *Server) allow(ctx context.Context, name string) error {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "unauthenticated")
	}
	ev := s.ev
	if ev == nil {
		ev = policy.Default()
	}
	ok, err := ev.Evaluate(name, p.Claims)
	if err != nil {
		s.log.Error("evaluate policy", zap.String("policy", name), zap.Error(err))
		return toStatus(err)
	}
	if !ok {
		return status.Error(codes.PermissionDenied, "forbidden")
	}
	return nil
}

func empty() *structpb.Struct { return &structpb.Struct{Fields: map[string]*structpb.Value{}} }

// --- Auth ---

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, password, err := convert.LoginFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	tok, err := s.auth.Login(ctx, username, password, remoteIP(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructTokens(tok), nil
}

// Me returns the caller's own directory row.
func (s *Server) Me(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	id, err := uuid.FromString(p.Subject)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	u, err := s.dir.GetCurrent(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructUserRow(*u), nil
}

// --- Directory reads ---

// ListUsers returns one page of the directory.
func (s *Server) ListUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := convert.PageQueryFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.dir.Query(ctx, q)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructPageResult(res), nil
}

// GetUser returns a directory row by userId.
func (s *Server) GetUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UserIDFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	u, err := s.dir.GetByID(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructUserRow(*u), nil
}

// GetUserByUsername returns a directory row by username.
func (s *Server) GetUserByUsername(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, _, err := convert.String(req, "username")
	if err != nil {
		return nil, toStatus(err)
	}
	u, err := s.dir.GetByUsername(ctx, name)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructUserRow(*u), nil
}

// ListRoles returns the role catalog.
func (s *Server) ListRoles(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	roles, err := s.dir.ListRoles(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructRoles(roles), nil
}

// --- Account administration ---

// CreateUser registers an account and returns its userId.
func (s *Server) CreateUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := convert.CreateAccountFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := s.dir.Create(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructUserID(id), nil
}

// UpdateUser applies a partial update.
func (s *Server) UpdateUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := convert.UpdateAccountFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	// a role change through update needs the same gate as ChangeRole
	if in.Role != nil && strings.TrimSpace(*in.Role) != "" {
		if err := s.allow(ctx, policy.AdminUsers); err != nil {
			return nil, err
		}
	}
	if err := s.dir.Update(ctx, in); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// ChangePassword replaces a user's password.
func (s *Server) ChangePassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UserIDFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	pw, _, err := convert.String(req, "password")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.dir.ChangePassword(ctx, id, pw); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// DeleteUser removes an account and its profile.
func (s *Server) DeleteUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UserIDFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.dir.Delete(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// ChangeRole makes the given role the user's only role.
func (s *Server) ChangeRole(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, _, err := convert.String(req, "username")
	if err != nil {
		return nil, toStatus(err)
	}
	role, _, err := convert.String(req, "role")
	if err != nil {
		return nil, toStatus(err)
	}
	msg, err := s.roles.ChangeRole(ctx, username, role)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToStructMessage("%s", msg), nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
