/*
Package throttle provides in-process rate limiting and abuse tracking for Go
services. It was built for the XianFeast marketplace API layer, but carries
no application-specific logic: callers supply keys, rules, and clean-up
scheduling, and the package keeps all state in plain process-local memory.

# Architecture

The module is organized into several components:
  - Core (this package): the fixed-window Limiter with IP blocking and
    violation escalation, plus the x/time/rate backed SteadyLimiter.
  - Cache (package cache): a capacity-bounded TTL cache with LRU eviction
    and hit/miss statistics, for memoizing handler results.
  - Stats (package stats): best-effort decision recording, in memory or
    to Redis.
  - Middleware (package middleware): net/http integration with client IP
    extraction and per-endpoint configuration.
  - Interceptors (package grpcmw): the same enforcement for gRPC servers.

# Rate limiting model

Limiter counts requests per caller-supplied key inside fixed windows. A
window is reset lazily on the first request after its reset time; there are
no background timers in the hot path. When a request is denied, a violation
is recorded against the client IP, and an IP that keeps violating within
the configured horizon is blocked outright for a while. Blocking is an
advisory abuse heuristic, not a security boundary.

A minimal check looks like:

	lim := throttle.NewLimiter()
	dec, err := lim.Take("auth:"+ip, ip, throttle.AuthRule())
	if err != nil {
	    // invalid rule, programmer error
	}
	if !dec.Allowed {
	    // reject with Retry-After = dec.RetryAfter
	}

SteadyLimiter is the alternative for traffic that should be smoothed rather
than windowed. It keeps one golang.org/x/time/rate token bucket per key and
evicts buckets that have been idle for a while.

# State and clean-up

All state lives in maps owned by the component instances; nothing is
persisted and nothing is shared between instances. Expired windows, stale
violation records, and expired cache entries are dropped lazily on access.
The host application is expected to call Cleanup on a timer of its own to
bound memory for keys that are written once and never touched again.

# Concurrency

Every component is safe for concurrent use. Operations are synchronous,
non-blocking, and O(1) expected time, so they can sit on the hot path of a
request handler.
*/
package throttle
