package throttle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default escalation parameters. An IP that violates a limit at least
// DefaultViolationThreshold times, with no gap between consecutive
// violations longer than DefaultViolationHorizon, is blocked for
// DefaultAutoBlockDuration.
const (
	DefaultViolationThreshold = 10
	DefaultViolationHorizon   = time.Hour
	DefaultAutoBlockDuration  = time.Hour
)

// windowEntry is the per-key fixed window counter.
type windowEntry struct {
	count   int
	resetAt time.Time
}

// blockEntry marks an IP as denied. A zero expiresAt means indefinite.
type blockEntry struct {
	expiresAt time.Time
	timer     *time.Timer
}

// violationRecord tracks how often an IP has exceeded a limit.
type violationRecord struct {
	count    int
	lastSeen time.Time
}

// Limiter decides, per key and rule, whether the current request is within
// the allowed rate, and tracks abusive source IPs across all keys.
//
// Limiter is safe for concurrent use. Construct one per host application
// and pass it to handlers; package-level singletons make tests bleed into
// each other.
type Limiter struct {
	mu         sync.Mutex
	windows    map[string]*windowEntry
	blocked    map[string]*blockEntry
	violations map[string]*violationRecord

	violationThreshold int
	violationHorizon   time.Duration
	autoBlockDuration  time.Duration

	logger zerolog.Logger
	now    func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithViolationThreshold sets how many violations trigger an auto-block.
func WithViolationThreshold(n int) LimiterOption {
	return func(l *Limiter) {
		if n > 0 {
			l.violationThreshold = n
		}
	}
}

// WithViolationHorizon sets the maximum gap between consecutive violations
// for them to count toward the auto-block threshold. Violation records
// idle longer than the horizon are dropped by Cleanup.
func WithViolationHorizon(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d > 0 {
			l.violationHorizon = d
		}
	}
}

// WithAutoBlockDuration sets how long an escalated auto-block lasts.
func WithAutoBlockDuration(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d > 0 {
			l.autoBlockDuration = d
		}
	}
}

// WithLogger sets the logger used for block and escalation events.
func WithLogger(logger zerolog.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// NewLimiter creates a limiter with default escalation parameters.
func NewLimiter(opts ...LimiterOption) *Limiter {
	l := &Limiter{
		windows:            make(map[string]*windowEntry),
		blocked:            make(map[string]*blockEntry),
		violations:         make(map[string]*violationRecord),
		violationThreshold: DefaultViolationThreshold,
		violationHorizon:   DefaultViolationHorizon,
		autoBlockDuration:  DefaultAutoBlockDuration,
		logger:             zerolog.Nop(),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Take records one request for key and returns the decision.
//
// ip is the client address the request came from; it is only used for the
// blocked set and violation tracking, never for counting. Callers that
// cannot attribute a request should pass a sentinel such as "unknown" -
// the limiter still works, at the cost of pooling all unattributable
// clients into one bucket.
//
// If the IP is blocked the request is denied immediately and no counter is
// touched. Otherwise the key's window is lazily reset when its reset time
// has passed, the counter is incremented, and the request is allowed while
// the count stays within rule.MaxRequests.
func (l *Limiter) Take(key, ip string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}

	l.mu.Lock()
	now := l.now()

	if l.isBlockedLocked(ip, now) {
		l.mu.Unlock()
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      rule.MaxRequests,
			ResetAt:    now.Add(rule.Window),
			RetryAfter: rule.Window,
		}, nil
	}

	entry, ok := l.windows[key]
	if !ok || now.After(entry.resetAt) {
		entry = &windowEntry{resetAt: now.Add(rule.Window)}
		l.windows[key] = entry
	}
	entry.count++

	dec := Decision{
		Allowed: entry.count <= rule.MaxRequests,
		Limit:   rule.MaxRequests,
		ResetAt: entry.resetAt,
	}
	if remaining := rule.MaxRequests - entry.count; remaining > 0 {
		dec.Remaining = remaining
	}
	if !dec.Allowed {
		dec.RetryAfter = entry.resetAt.Sub(now)
		l.recordViolationLocked(ip, now)
	}
	l.mu.Unlock()

	if !dec.Allowed && rule.OnLimit != nil {
		rule.OnLimit(key, ip)
	}
	return dec, nil
}

// BlockIP denies all traffic from ip, across every key, until UnblockIP is
// called. If d is positive the block expires on its own after d.
func (l *Limiter) BlockIP(ip string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockLocked(ip, d, l.now())
	l.logger.Warn().Str("ip", ip).Dur("duration", d).Msg("ip blocked")
}

// UnblockIP removes ip from the blocked set and clears its violation
// record, cancelling any pending auto-unblock.
func (l *Limiter) UnblockIP(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.blocked[ip]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(l.blocked, ip)
	}
	delete(l.violations, ip)
}

// IsBlocked reports whether ip is currently denied all traffic.
func (l *Limiter) IsBlocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isBlockedLocked(ip, l.now())
}

// Cleanup removes window entries whose reset time has passed and violation
// records idle beyond the horizon, and returns the number removed. The
// limiter runs no timers of its own for this; call it periodically from
// the host application.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, entry := range l.windows {
		if now.After(entry.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	for ip, rec := range l.violations {
		if now.Sub(rec.lastSeen) > l.violationHorizon {
			delete(l.violations, ip)
			removed++
		}
	}
	return removed
}

// isBlockedLocked checks the blocked set, lazily expiring timed blocks so
// that the set stays correct even if the auto-unblock timer has not fired.
func (l *Limiter) isBlockedLocked(ip string, now time.Time) bool {
	entry, ok := l.blocked[ip]
	if !ok {
		return false
	}
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(l.blocked, ip)
		return false
	}
	return true
}

// blockLocked installs or refreshes a block. A pending timer from an
// earlier block on the same IP is cancelled so it cannot remove the new
// block early.
func (l *Limiter) blockLocked(ip string, d time.Duration, now time.Time) {
	if existing, ok := l.blocked[ip]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	entry := &blockEntry{}
	if d > 0 {
		entry.expiresAt = now.Add(d)
		entry.timer = time.AfterFunc(d, func() {
			l.expireBlock(ip)
		})
	}
	l.blocked[ip] = entry
}

// expireBlock is the timer callback for timed blocks. It only removes the
// entry if the block really has expired, so a stale timer from a replaced
// block cannot unblock a newer one.
func (l *Limiter) expireBlock(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.blocked[ip]
	if !ok || entry.expiresAt.IsZero() {
		return
	}
	if !l.now().Before(entry.expiresAt) {
		delete(l.blocked, ip)
	}
}

// recordViolationLocked bumps the violation count for ip. The gap to the
// previous violation is measured against the horizon before lastSeen moves
// forward: consecutive violations must each land within the horizon of the
// one before for the count to keep growing. Crossing the threshold blocks
// the IP and resets its record.
func (l *Limiter) recordViolationLocked(ip string, now time.Time) {
	rec, ok := l.violations[ip]
	if !ok {
		rec = &violationRecord{}
		l.violations[ip] = rec
	} else if now.Sub(rec.lastSeen) > l.violationHorizon {
		rec.count = 0
	}
	rec.count++
	rec.lastSeen = now

	if rec.count >= l.violationThreshold {
		l.blockLocked(ip, l.autoBlockDuration, now)
		delete(l.violations, ip)
		l.logger.Warn().
			Str("ip", ip).
			Int("violations", rec.count).
			Dur("duration", l.autoBlockDuration).
			Msg("auto-blocking abusive client")
	}
}
