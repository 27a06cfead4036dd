package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"nailsdash/backend/internal/ratelimit"
)

// DefaultRequestTimeout bounds requests that arrive without a deadline.
func DefaultRequestTimeout(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// RateLimit rejects callers over their quota with ResourceExhausted. Callers are keyed by
// customer id, falling back to the peer address. With failOpen set, requests pass when
// the limiter itself fails.
func RateLimit(limiter ratelimit.Limiter, log *slog.Logger, failOpen bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.ratelimit"))

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		key := rateLimitKey(ctx)
		ok, err := limiter.Allow(ctx, key)
		if err != nil {
			log.Warn("rate limiter error", slog.Any("err", err), slog.String("method", info.FullMethod))
			if failOpen {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unavailable, "rate limiter unavailable")
		}
		if !ok {
			log.Info("rate limit exceeded", slog.String("key", key), slog.String("method", info.FullMethod))
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func rateLimitKey(ctx context.Context) string {
	if id := callerFrom(ctx).CustomerID; id != "" {
		return "customer:" + id
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host := p.Addr.String()
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		return "peer:" + host
	}
	return "anonymous"
}
