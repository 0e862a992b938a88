package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/clinic-credit/internal/auth"
)

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

		// metadata only, never tokens or payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if err != nil && code != codes.Unauthenticated {
			fields = append(fields, zap.String("error_code", string(ErrorCodeOf(err))))
		}
		log.Info("grpc", fields...)
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
				err = status.Error(codes.Internal, "INTERNAL_ERROR: internal error")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary verifies the bearer access token of Redemption calls and stores
// the caller principal in the context. Other services (health) pass through.
func AuthUnary(tokens *auth.Tokens) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return next(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		raw, err := auth.BearerToken(md.Get("authorization")...)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		p, err := tokens.Verify(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		return next(auth.WithPrincipal(ctx, p), req)
	}
}

// NewGRPCServer builds a grpc.Server with the interceptor chain and the
// Redemption service registered.
func NewGRPCServer(srv RedemptionServer, tokens *auth.Tokens, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(tokens),
	))
	gs := grpc.NewServer(opts...)
	Register(gs, srv)
	return gs
}
