package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// UnknownIP is the sentinel returned when no client address can be
// extracted. Unattributable clients all pool into this one bucket - an
// accepted degradation, not an error: the limiter keeps working.
const UnknownIP = "unknown"

// ClientIP extracts the client address from a request. It checks
// X-Forwarded-For (first hop), then X-Real-IP, then RemoteAddr, and falls
// back to UnknownIP.
//
// ClientIP trusts forwarding headers blindly, which a client can spoof.
// Behind a proxy, build the key function with TrustedProxyKeyFunc instead.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Only the first hop matters; avoid strings.Split to keep huge
		// crafted headers from allocating.
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if ip := remoteIP(r); ip != "" {
		return ip
	}
	return UnknownIP
}

// TrustedProxyKeyFunc returns a KeyFunc that extracts the client IP while
// trusting only the given proxies. X-Forwarded-For is walked right to
// left, skipping addresses inside the trusted set; the first untrusted
// address is the client. Entries may be single IPs or CIDR blocks
// (e.g. "10.0.0.0/8").
func TrustedProxyKeyFunc(trustedProxies []string) (KeyFunc, error) {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, p := range trustedProxies {
		_, network, err := net.ParseCIDR(p)
		if err != nil {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("middleware: invalid trusted proxy %q", p)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			network = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		cidrs = append(cidrs, network)
	}

	trusted := func(raw string) bool {
		ip := net.ParseIP(raw)
		if ip == nil {
			return false
		}
		for _, cidr := range cidrs {
			if cidr.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		remote := remoteIP(r)
		if remote == "" {
			return UnknownIP
		}

		// An untrusted direct peer is the client, headers or not.
		if !trusted(remote) {
			return remote
		}

		xff := r.Header.Get("X-Forwarded-For")
		if xff == "" {
			return remote
		}

		// Walk the chain backwards without allocating a slice.
		idx := len(xff)
		for idx > 0 {
			comma := strings.LastIndexByte(xff[:idx], ',')
			part := strings.TrimSpace(xff[comma+1 : idx])
			idx = comma
			if part == "" || net.ParseIP(part) == nil {
				continue
			}
			if !trusted(part) {
				return part
			}
		}

		// Every hop is a trusted proxy; fall back to the chain's origin.
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
		return remote
	}, nil
}

// remoteIP strips the port from RemoteAddr, handling bracketed IPv6. It
// returns the raw address when the format is not Host:Port, matching what
// net.SplitHostPort would reject.
func remoteIP(r *http.Request) string {
	addr := r.RemoteAddr
	if addr == "" {
		return ""
	}

	if addr[0] == '[' {
		end := strings.IndexByte(addr, ']')
		if end < 0 {
			return addr
		}
		if end+1 < len(addr) && addr[end+1] == ':' {
			return addr[1:end]
		}
		return addr
	}

	first := strings.IndexByte(addr, ':')
	if first == -1 {
		return addr
	}
	if last := strings.LastIndexByte(addr, ':'); last != first {
		// More than one colon: unbracketed IPv6, no port to strip.
		return addr
	}
	return addr[:first]
}
