package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/user-directory/internal/policy"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "directory.v1.Directory"

// Gates that are not policy names.
const (
	GatePublic        = "public"
	GateAuthenticated = "authenticated"
)

// DirectoryServer is the handler surface of ServiceName. Every message is a
// google.protobuf.Struct.
type DirectoryServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Me(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListUsers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUserByUsername(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRoles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangePassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeRole(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method struct {
	name string
	gate string
	call func(DirectoryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var methods = []method{
	{"Login", GatePublic, DirectoryServer.Login},
	{"Me", GateAuthenticated, DirectoryServer.Me},
	{"ListUsers", policy.ReadUsers, DirectoryServer.ListUsers},
	{"GetUser", policy.ReadUsers, DirectoryServer.GetUser},
	{"GetUserByUsername", policy.ReadUsers, DirectoryServer.GetUserByUsername},
	{"ListRoles", policy.AdminUsers, DirectoryServer.ListRoles},
	{"CreateUser", policy.AdminUsers, DirectoryServer.CreateUser},
	{"UpdateUser", policy.WriteUsers, DirectoryServer.UpdateUser},
	{"ChangePassword", policy.AdminUsers, DirectoryServer.ChangePassword},
	{"DeleteUser", policy.AdminUsers, DirectoryServer.DeleteUser},
	{"ChangeRole", policy.AdminUsers, DirectoryServer.ChangeRole},
}

// FullMethod returns "/directory.v1.Directory/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// Gates returns the gate of every method keyed by full method name.
func Gates() map[string]string {
	out := make(map[string]string, len(methods))
	for _, m := range methods {
		out[FullMethod(m.name)] = m.gate
	}
	return out
}

func handler(m method) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m.call(srv.(DirectoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(m.name)}
		h := func(ctx context.Context, req any) (any, error) {
			return m.call(srv.(DirectoryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, h)
	}
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*DirectoryServer)(nil),
		Streams:     []grpc.StreamDesc{},
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: m.name, Handler: handler(m)})
	}
	return desc
}

// RegisterDirectoryServer registers srv under ServiceName.
func RegisterDirectoryServer(s grpc.ServiceRegistrar, srv DirectoryServer) {
	s.RegisterService(serviceDesc(), srv)
}

// Invoke calls a Directory method on cc.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, name string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
