package throttle

import "time"

// Rule describes one rate limit: how many requests a single key may make
// inside a fixed window. Rules are plain data supplied on every check; they
// are not registered with or stored by the Limiter.
type Rule struct {
	// Window is the length of the counting window.
	Window time.Duration

	// MaxRequests is the inclusive cap of requests per window.
	MaxRequests int

	// OnLimit, if set, is called after a request is denied by this rule.
	// It receives the rate limit key and the client IP. It must not block.
	OnLimit func(key, ip string)
}

// Validate checks if the rule is usable. An invalid rule is a programmer
// error: rules are configuration, not user input.
func (r Rule) Validate() error {
	if r.MaxRequests < 1 {
		return ErrInvalidMaxRequests
	}
	if r.Window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}

// Decision is the outcome of a single rate limit check.
type Decision struct {
	// Allowed indicates if the request was admitted.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// Limit echoes the rule's MaxRequests.
	Limit int

	// ResetAt is when the current window ends.
	ResetAt time.Time

	// RetryAfter is how long to wait before retrying. Zero when allowed.
	RetryAfter time.Duration
}

// Preset rules for the common endpoint categories of the XianFeast API.
// They are starting points, not enforced defaults; tune them per deployment.

// AuthRule limits credential-bearing endpoints (login, magic links, OTP).
// Narrow cap: failed authentication is the main brute-force surface.
func AuthRule() Rule {
	return Rule{Window: 15 * time.Minute, MaxRequests: 5}
}

// BrowseRule limits read-only catalog traffic (stalls, products, menus).
func BrowseRule() Rule {
	return Rule{Window: time.Minute, MaxRequests: 300}
}

// OrderRule limits mutation endpoints such as order and cart creation.
func OrderRule() Rule {
	return Rule{Window: time.Minute, MaxRequests: 30}
}

// APIRule limits generic API traffic that fits no other category.
func APIRule() Rule {
	return Rule{Window: time.Minute, MaxRequests: 100}
}
