// Package middleware integrates the throttle limiter and cache with
// net/http: key extraction from requests, a single-rule middleware, and a
// per-endpoint Router.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xianfeast/throttle"
	"github.com/xianfeast/throttle/stats"
)

// KeyFunc maps a request to the string that partitions rate limit
// counters. Prefix keys by category
// ("auth:<ip>", "order:<user>") so different rule pools cannot collide in
// the same key space.
type KeyFunc func(r *http.Request) string

// OnLimitedFunc writes the response for a denied request. Rate limit
// headers, including Retry-After, are already set when it runs.
type OnLimitedFunc func(w http.ResponseWriter, r *http.Request)

// Options configures the middleware and Router.
type Options struct {
	// KeyFunc extracts the rate limiting key. Default: ClientIP.
	KeyFunc KeyFunc

	// OnLimited handles denied requests. Default: JSON 429.
	OnLimited OnLimitedFunc

	// ExcludePaths bypass rate limiting. Exact match, or prefix match for
	// patterns ending in "*".
	ExcludePaths []string

	// IncludeMethods restricts limiting to these HTTP methods. Empty
	// means all methods.
	IncludeMethods []string

	// MaxKeySize rejects oversized keys before they reach the limiter.
	// Default 4096.
	MaxKeySize int

	// Logger receives denial events. Defaults to a no-op logger.
	Logger zerolog.Logger

	// Stats, if set, records every decision. Best-effort: recorder errors
	// are logged and ignored.
	Stats stats.Recorder
}

// Option is a function that configures Options.
type Option func(*Options)

// WithKeyFunc sets a custom key extraction function.
func WithKeyFunc(fn KeyFunc) Option {
	return func(o *Options) { o.KeyFunc = fn }
}

// WithOnLimited sets a custom handler for denied requests.
func WithOnLimited(fn OnLimitedFunc) Option {
	return func(o *Options) { o.OnLimited = fn }
}

// WithExcludePaths sets paths that bypass rate limiting.
func WithExcludePaths(paths ...string) Option {
	return func(o *Options) { o.ExcludePaths = paths }
}

// WithIncludeMethods restricts limiting to specific HTTP methods.
func WithIncludeMethods(methods ...string) Option {
	return func(o *Options) { o.IncludeMethods = methods }
}

// WithMaxKeySize overrides the key size guard.
func WithMaxKeySize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxKeySize = n
		}
	}
}

// WithLogger sets the logger for denial events.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithStats sets the decision recorder.
func WithStats(rec stats.Recorder) Option {
	return func(o *Options) { o.Stats = rec }
}

// CategoryKeyFunc returns a KeyFunc producing "<category>:<client ip>".
func CategoryKeyFunc(category string) KeyFunc {
	return func(r *http.Request) string {
		return category + ":" + ClientIP(r)
	}
}

// DefaultOnLimited writes a JSON 429 response.
func DefaultOnLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","message":"too many requests, please try again later"}`))
}

// RateLimit creates a middleware enforcing a single rule for all matching
// requests through the given limiter.
func RateLimit(limiter *throttle.Limiter, rule throttle.Rule, opts ...Option) func(http.Handler) http.Handler {
	options := newOptions(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range options.ExcludePaths {
				if matchPath(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			if !options.methodIncluded(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := options.KeyFunc(r)
			if len(key) > options.MaxKeySize {
				http.Error(w, "rate limit key too long", http.StatusRequestHeaderFieldsTooLarge)
				return
			}

			dec, err := limiter.Take(key, ClientIP(r), rule)
			if err != nil {
				// Invalid rules are programmer errors; surface loudly
				// instead of silently failing open.
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			options.finish(w, r, key, dec, next)
		})
	}
}

// newOptions applies opts over the defaults.
func newOptions(opts []Option) *Options {
	options := &Options{
		KeyFunc:    ClientIP,
		OnLimited:  DefaultOnLimited,
		MaxKeySize: 4096,
		Logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.MaxKeySize <= 0 {
		options.MaxKeySize = 4096
	}
	return options
}

// methodIncluded checks the IncludeMethods filter.
func (o *Options) methodIncluded(method string) bool {
	if len(o.IncludeMethods) == 0 {
		return true
	}
	for _, m := range o.IncludeMethods {
		if strings.EqualFold(method, m) {
			return true
		}
	}
	return false
}

// finish sets rate limit headers, records the decision, and either passes
// the request on or invokes the denial handler.
func (o *Options) finish(w http.ResponseWriter, r *http.Request, key string, dec throttle.Decision, next http.Handler) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))

	if o.Stats != nil {
		err := o.Stats.Record(r.Context(), stats.Event{
			Key:     key,
			Allowed: dec.Allowed,
			Method:  r.Method,
			Path:    r.URL.Path,
			At:      time.Now(),
		})
		if err != nil {
			o.Logger.Warn().Err(err).Msg("stats recording failed")
		}
	}

	if dec.Allowed {
		next.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(dec.RetryAfter)))
	o.Logger.Info().
		Str("key", key).
		Str("path", r.URL.Path).
		Dur("retry_after", dec.RetryAfter).
		Msg("request rate limited")
	o.OnLimited(w, r)
}

// retryAfterSeconds converts a wait duration to whole seconds, rounded up,
// never below 1.
func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
