package middleware

import (
	"net/http"

	"github.com/xianfeast/throttle"
)

// Algorithm selects how an endpoint's traffic is limited.
type Algorithm string

const (
	// AlgorithmWindow counts requests in fixed windows with escalation
	// against abusive IPs. The default.
	AlgorithmWindow Algorithm = "window"

	// AlgorithmSteady smooths traffic with a per-key token bucket.
	AlgorithmSteady Algorithm = "steady"
)

// EndpointConfig holds the rate limit configuration for one endpoint.
type EndpointConfig struct {
	// Path is the URL path to match. Exact match, or prefix match for
	// patterns ending in "*".
	Path string

	// Methods are the HTTP methods to match. Empty means all.
	Methods []string

	// Algorithm picks window or steady limiting. Default window.
	Algorithm Algorithm

	// Rule is the fixed-window rule. Used by AlgorithmWindow.
	Rule throttle.Rule

	// RPS and Burst configure the token bucket. Used by AlgorithmSteady.
	RPS   float64
	Burst int
}

// endpoint is a compiled endpoint configuration.
type endpoint struct {
	config EndpointConfig
	steady *throttle.SteadyLimiter // nil for window endpoints
}

// Router applies per-endpoint rate limiting in front of a handler.
// Window endpoints share one Limiter (so IP blocking and escalation span
// all of them); each steady endpoint owns its own bucket pool.
type Router struct {
	endpoints []endpoint
	limiter   *throttle.Limiter
	handler   http.Handler
	options   *Options
}

// NewRouter compiles the endpoint configurations. Invalid rules fail here,
// at construction, rather than on the first request.
func NewRouter(handler http.Handler, limiter *throttle.Limiter, endpoints []EndpointConfig, opts ...Option) (*Router, error) {
	r := &Router{
		endpoints: make([]endpoint, 0, len(endpoints)),
		limiter:   limiter,
		handler:   handler,
		options:   newOptions(opts),
	}

	for _, config := range endpoints {
		ep := endpoint{config: config}
		switch config.Algorithm {
		case AlgorithmSteady:
			steady, err := throttle.NewSteadyLimiter(config.RPS, config.Burst)
			if err != nil {
				return nil, err
			}
			ep.steady = steady
		default:
			if err := config.Rule.Validate(); err != nil {
				return nil, err
			}
		}
		r.endpoints = append(r.endpoints, ep)
	}

	return r, nil
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Normalize once so //api/orders and /api/orders hit the same rule.
	cleaned := cleanRequestPath(req.URL.Path)

	for i := range rt.endpoints {
		ep := &rt.endpoints[i]
		if !ep.match(cleaned, req) {
			continue
		}

		key := rt.options.KeyFunc(req) + ":" + ep.config.Path
		if len(key) > rt.options.MaxKeySize {
			http.Error(w, "rate limit key too long", http.StatusRequestHeaderFieldsTooLarge)
			return
		}

		if ep.steady != nil {
			if !ep.steady.Allow(key) {
				w.Header().Set("Retry-After", "1")
				rt.options.OnLimited(w, req)
				return
			}
			rt.handler.ServeHTTP(w, req)
			return
		}

		dec, err := rt.limiter.Take(key, ClientIP(req), ep.config.Rule)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		rt.options.finish(w, req, key, dec, rt.handler)
		return
	}

	// No matching endpoint, no limit.
	rt.handler.ServeHTTP(w, req)
}

// Cleanup drops expired limiter state for the shared limiter and every
// steady endpoint, returning the total removed. Call it periodically from
// the host application.
func (rt *Router) Cleanup() int {
	removed := rt.limiter.Cleanup()
	for i := range rt.endpoints {
		if rt.endpoints[i].steady != nil {
			removed += rt.endpoints[i].steady.Cleanup()
		}
	}
	return removed
}

// match checks path and method against the endpoint configuration.
func (ep *endpoint) match(cleanedPath string, req *http.Request) bool {
	if !matchPath(cleanedPath, ep.config.Path) {
		return false
	}
	if len(ep.config.Methods) == 0 {
		return true
	}
	for _, method := range ep.config.Methods {
		if req.Method == method {
			return true
		}
	}
	return false
}
