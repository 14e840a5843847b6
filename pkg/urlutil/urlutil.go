package urlutil

import "net/url"

// Canonicalize applies a deterministic normalization to a URL, producing a canonical form
// used as the identity key for the Frontier and the store's Page uniqueness constraint.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Query strings are preserved as-is: parameters are neither reordered nor
//     percent-decoded, since either would risk changing server-observable semantics
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Clean the path: remove trailing slashes (except root)
	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	// Remove fragment (anchor); it never changes what the server returns
	canonical.Fragment = ""
	canonical.RawFragment = ""

	return canonical
}

// Resolve turns a possibly-relative URL into an absolute one against a base
// scheme+host, mirroring the stdlib's own url.URL.ResolveReference but taking
// the base apart into its components since callers (frontier admission,
// sitemap expansion) generally only have a scheme and host on hand, not a
// full base url.URL.
func Resolve(u url.URL, scheme, host string) url.URL {
	if u.IsAbs() {
		return u
	}
	base := url.URL{Scheme: scheme, Host: host}
	resolved := base.ResolveReference(&u)
	return *resolved
}

// FilterByHost returns the subset of urls whose host matches the given host
// (case-insensitive), preserving order. Used by the frontier admission path
// when a crawl is restricted to a fixed set of allowed hosts.
func FilterByHost(host string, urls []url.URL) []url.URL {
	host = lowerASCII(host)
	filtered := make([]url.URL, 0, len(urls))
	for _, u := range urls {
		if lowerASCII(u.Hostname()) == host {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
