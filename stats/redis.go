package stats

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis records decisions into Redis hashes so totals survive restarts and
// can be aggregated across instances. Only statistics live in Redis; the
// limiter's own state stays in process memory.
//
// Layout (HINCRBY on "allowed"/"denied" fields):
//
//	<prefix>:total                  cumulative, never expires
//	<prefix>:minute:<yyyymmddhhmm>  per-minute bucket, expires after TTL
//	<prefix>:route                  per "METHOD /path" fields
//	<prefix>:key:<key>              per rate limit key, expires after TTL
type Redis struct {
	rdb *redis.Client

	prefix    string
	ttl       time.Duration
	buckets   bool
	trackKeys bool
}

// RedisOption configures a Redis recorder.
type RedisOption func(*Redis)

// WithPrefix overrides the key prefix. Default "throttle:stats".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry for minute buckets and per-key series. The total
// hash is cumulative and never expires. Default 24h.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithMinuteBuckets toggles the per-minute series. On by default.
func WithMinuteBuckets(enabled bool) RedisOption {
	return func(r *Redis) { r.buckets = enabled }
}

// WithRedisTrackKeys enables per-key series. Off by default; see the
// cardinality note on Event.
func WithRedisTrackKeys(track bool) RedisOption {
	return func(r *Redis) { r.trackKeys = track }
}

// NewRedis creates a Redis-backed recorder.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:     rdb,
		prefix:  "throttle:stats",
		ttl:     24 * time.Hour,
		buckets: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record implements Recorder. All increments for one event go out in a
// single pipeline round trip.
func (r *Redis) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	if r.buckets {
		bucketKey := r.prefix + ":minute:" + at.UTC().Format("200601021504")
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, bucketKey, r.ttl)
		}
	}

	route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if route != "" {
		pipe.HIncrBy(ctx, r.prefix+":route", route+":"+field, 1)
	}

	if r.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			keyKey := r.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if r.ttl > 0 {
				pipe.Expire(ctx, keyKey, r.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
