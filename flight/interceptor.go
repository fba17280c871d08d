package flight

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor creates a gRPC unary interceptor that enriches the
// context with correlation metadata and logs each call's method, duration
// and resulting status code.
func UnaryServerInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx = EnrichContextMetadata(ctx)
		start := time.Now()

		resp, err := handler(ctx, req)

		logger.Debug("Unary call finished",
			"method", info.FullMethod,
			"duration", time.Since(start),
			"code", status.Code(err).String(),
			"trace_id", TraceIDFromContext(ctx),
		)

		return resp, err
	}
}

// StreamServerInterceptor creates a gRPC stream interceptor that enriches
// the stream context with correlation metadata and logs call outcomes.
func StreamServerInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx := EnrichContextMetadata(ss.Context())
		start := time.Now()

		err := handler(srv, &wrappedServerStream{
			ServerStream: ss,
			ctx:          ctx,
		})

		logger.Debug("Stream call finished",
			"method", info.FullMethod,
			"duration", time.Since(start),
			"code", status.Code(err).String(),
			"trace_id", TraceIDFromContext(ctx),
		)

		return err
	}
}

// wrappedServerStream wraps grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapper's custom context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
