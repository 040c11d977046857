package grpcserver

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/user-directory/internal/model"
	"github.com/and161185/user-directory/internal/policy"
)

// TokenParser validates a bearer token and returns its principal.
type TokenParser interface {
	Parse(raw string) (*model.Principal, error)
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary gates Directory methods by bearer token and policy. Calls to
// other services (health, reflection) pass through. Construction fails when
// a method names a policy ev does not define.
func AuthUnary(tokens TokenParser, ev *policy.Evaluator) (grpc.UnaryServerInterceptor, error) {
	gates := Gates()
	for m, g := range gates {
		if g == GatePublic || g == GateAuthenticated {
			continue
		}
		if err := ev.Require(g); err != nil {
			return nil, fmt.Errorf("method %s: %w", m, err)
		}
	}
	prefix := "/" + ServiceName + "/"

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return next(ctx, req)
		}
		gate, ok := gates[info.FullMethod]
		if !ok {
			return nil, status.Error(codes.Unimplemented, "unknown method")
		}
		if gate == GatePublic {
			return next(ctx, req)
		}

		raw, err := bearerTokenFromMD(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		p, err := tokens.Parse(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}

		if gate != GateAuthenticated {
			allowed, err := ev.Evaluate(gate, p.Claims)
			if err != nil {
				return nil, status.Error(codes.Internal, "internal")
			}
			if !allowed {
				return nil, status.Error(codes.PermissionDenied, "forbidden")
			}
		}
		return next(WithPrincipal(ctx, p), req)
	}, nil
}
