package httpapi

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"eostre.org/internal/auth"
	"eostre.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer implements grpc.health.v1 on top of the readiness probe.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	service   string
}

// NewHealthServer answers for the empty service name and for service.
func NewHealthServer(r readinessChecker, service string) *HealthServer {
	return &HealthServer{readiness: r, service: service}
}

// Check reports SERVING while the probe passes.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != s.service {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.From(ctx).Warn("grpc health check failed", zap.Error(err))
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer builds a server with the health service registered and the
// logging and auth interceptors chained. Health checks need no token.
func NewGRPCServer(r readinessChecker, service string, codec TokenDecoder, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		UnaryLoggingInterceptor(),
		UnaryAuthInterceptor(codec, healthpb.Health_Check_FullMethodName),
	))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealthServer(r, service))
	return srv
}

// UnaryLoggingInterceptor logs method, code and duration of every call.
func UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		obs.Named("grpc").Info("rpc_complete",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
		return resp, err
	}
}

// UnaryAuthInterceptor verifies the bearer token in the authorization
// metadata and stores its claims in the context. Methods listed in public
// are let through untouched.
func UnaryAuthInterceptor(codec TokenDecoder, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]struct{}, len(public))
	for _, m := range public {
		skip[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; ok || codec == nil {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get(strings.ToLower(authHeader))
		if len(values) == 0 {
			obs.ObserveTokenRejection("missing")
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		token, err := extractBearerToken(values[0])
		if err != nil {
			obs.ObserveTokenRejection("malformed")
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		claims, err := codec.DecodeKind(token, auth.TokenAccess)
		if err != nil {
			reason := auth.TokenErrorReason(err)
			obs.ObserveTokenRejection(reason)
			obs.Named("grpc").Debug("token rejected", zap.String("method", info.FullMethod), zap.String("reason", reason))
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		ctx = auth.ContextWithClaims(ctx, claims)
		ctx = auth.ContextWithToken(ctx, token)
		return handler(ctx, req)
	}
}
