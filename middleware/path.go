package middleware

import "path"

// matchPath checks if a request path matches a pattern: exact match, or
// prefix match when the pattern ends with "*". A pattern like "/api/*"
// also matches the bare "/api".
func matchPath(p, pattern string) bool {
	n := len(pattern)
	if n == 0 || pattern[n-1] != '*' {
		return p == pattern
	}

	prefix := pattern[:n-1]
	if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
		return true
	}

	// "/api/*" should also cover "/api" itself.
	if len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		base := prefix[:len(prefix)-1]
		return p == base
	}
	return false
}

// cleanRequestPath normalizes a request path so pattern matching cannot be
// bypassed with //double/slashes or /./ segments. Already-clean paths (the
// overwhelmingly common case) are returned without allocating; anything
// suspicious falls back to path.Clean.
func cleanRequestPath(p string) string {
	if p == "" {
		return "."
	}
	if p[0] != '/' {
		return path.Clean(p)
	}

	for i := 1; i < len(p); i++ {
		if p[i] != '/' && p[i] != '.' {
			continue
		}
		// "//" or "/." (which also covers "/./" and "/..") need a real clean.
		if p[i-1] == '/' {
			return path.Clean(p)
		}
	}

	// path.Clean strips a trailing slash except at the root.
	if len(p) > 1 && p[len(p)-1] == '/' {
		return path.Clean(p)
	}
	return p
}
