package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SteadyLimiter smooths traffic per key with a token bucket instead of
// counting inside fixed windows. It keeps one rate.Limiter per key and
// remembers when each was last used so idle buckets can be evicted.
//
// Use it for endpoints where a steady average with controlled bursting
// matters more than a hard per-window cap.
type SteadyLimiter struct {
	mu      sync.Mutex
	entries map[string]*steadyEntry

	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	now func() time.Time
}

type steadyEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// SteadyOption configures a SteadyLimiter.
type SteadyOption func(*SteadyLimiter)

// WithIdleTTL sets how long an unused key's bucket survives before Cleanup
// may drop it. Default is 15 minutes.
func WithIdleTTL(d time.Duration) SteadyOption {
	return func(s *SteadyLimiter) {
		if d > 0 {
			s.idleTTL = d
		}
	}
}

// NewSteadyLimiter creates a steady limiter admitting rps requests per
// second per key with the given burst size.
func NewSteadyLimiter(rps float64, burst int, opts ...SteadyOption) (*SteadyLimiter, error) {
	if rps <= 0 {
		return nil, ErrInvalidRate
	}
	if burst < 1 {
		return nil, ErrInvalidBurst
	}
	s := &SteadyLimiter{
		entries: make(map[string]*steadyEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RPS returns the configured steady rate.
func (s *SteadyLimiter) RPS() float64 { return float64(s.limit) }

// Burst returns the configured burst size.
func (s *SteadyLimiter) Burst() int { return s.burst }

// Allow reports whether one request for key may proceed now.
func (s *SteadyLimiter) Allow(key string) bool {
	s.mu.Lock()
	now := s.now()
	entry, ok := s.entries[key]
	if !ok {
		entry = &steadyEntry{lim: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = entry
	}
	entry.lastSeen = now
	lim := entry.lim
	s.mu.Unlock()

	return lim.Allow()
}

// Len returns the number of tracked keys.
func (s *SteadyLimiter) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops buckets for keys not seen within the idle TTL and returns
// the number removed. Caller-driven, like Limiter.Cleanup.
func (s *SteadyLimiter) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for key, entry := range s.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
