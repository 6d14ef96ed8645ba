// Package grpcmw enforces throttle rules on gRPC servers, mirroring what
// package middleware does for net/http.
package grpcmw

import (
	"context"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/xianfeast/throttle"
)

// UnknownIP is the sentinel used when no peer address can be extracted.
const UnknownIP = "unknown"

// Options configures the interceptor.
type Options struct {
	// KeyPrefix partitions gRPC traffic from HTTP pools. Default "grpc".
	KeyPrefix string

	// TrustForwardedFor reads the client IP from x-forwarded-for metadata
	// (first hop). Only enable behind a proxy that sets it.
	TrustForwardedFor bool

	// ExemptMethods bypass rate limiting entirely (health checks,
	// reflection). Full method names, e.g. "/orders.v1.Orders/Get".
	ExemptMethods []string

	// Logger receives denial events. Defaults to a no-op logger.
	Logger zerolog.Logger
}

// Option is a function that configures Options.
type Option func(*Options)

// WithKeyPrefix overrides the key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Options) {
		if prefix != "" {
			o.KeyPrefix = prefix
		}
	}
}

// WithTrustForwardedFor enables x-forwarded-for metadata extraction.
func WithTrustForwardedFor(trust bool) Option {
	return func(o *Options) { o.TrustForwardedFor = trust }
}

// WithExemptMethods sets methods that bypass rate limiting.
func WithExemptMethods(methods ...string) Option {
	return func(o *Options) { o.ExemptMethods = methods }
}

// WithLogger sets the logger for denial events.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// UnaryServerInterceptor applies rule to every unary call through the
// given limiter, keyed by client IP. Denied calls fail with
// ResourceExhausted and a retry-after header (whole seconds).
func UnaryServerInterceptor(limiter *throttle.Limiter, rule throttle.Rule, opts ...Option) grpc.UnaryServerInterceptor {
	options := &Options{
		KeyPrefix: "grpc",
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		for _, method := range options.ExemptMethods {
			if info.FullMethod == method {
				return handler(ctx, req)
			}
		}

		ip := clientIP(ctx, options.TrustForwardedFor)
		key := options.KeyPrefix + ":" + ip

		dec, err := limiter.Take(key, ip, rule)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		if !dec.Allowed {
			seconds := int(math.Ceil(dec.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			// Best effort; the stream may not support headers (tests).
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.Itoa(seconds)))
			options.Logger.Info().
				Str("key", key).
				Str("method", info.FullMethod).
				Dur("retry_after", dec.RetryAfter).
				Msg("grpc call rate limited")
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(ctx, req)
	}
}

// clientIP extracts the peer address from the call context.
func clientIP(ctx context.Context, trustForwardedFor bool) string {
	if trustForwardedFor {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("x-forwarded-for"); len(values) > 0 {
				first := values[0]
				if idx := strings.IndexByte(first, ','); idx >= 0 {
					first = first[:idx]
				}
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}
	}

	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return UnknownIP
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr == "" {
		return UnknownIP
	}
	return addr
}
