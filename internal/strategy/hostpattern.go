package strategy

import (
	"strconv"
	"strings"
)

// HostPattern is a parsed allow-list entry for destination-host matching.
type HostPattern struct {
	pattern    string
	host       string // lowercased, without port
	port       int    // 0 means "unspecified": matches only default ports 80/443
	isWildcard bool   // true for "*.suffix" patterns
}

// ParseHostPattern parses patterns of the form:
//
//	api.example.com
//	api.example.com:8080
//	*.example.com
//	*.example.com:443
func ParseHostPattern(s string) HostPattern {
	p := HostPattern{pattern: s}

	if strings.HasPrefix(s, "*.") {
		p.isWildcard = true
		s = s[2:]
	}

	host, portStr, hasPort := strings.Cut(s, ":")
	p.host = strings.ToLower(host)

	if hasPort {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port <= 65535 {
			p.port = port
		}
	}

	return p
}

// String returns the original pattern text.
func (p HostPattern) String() string { return p.pattern }

// MatchHost reports whether host:port satisfies any of patterns.
func MatchHost(patterns []HostPattern, host string, port int) bool {
	for _, p := range patterns {
		if p.matches(host, port) {
			return true
		}
	}
	return false
}

func (p HostPattern) matches(host string, port int) bool {
	if p.port != 0 {
		if p.port != port {
			return false
		}
	} else if port != 80 && port != 443 {
		return false
	}

	if p.isWildcard {
		suffix := "." + p.host
		lower := strings.ToLower(host)
		return strings.HasSuffix(lower, suffix) || lower == p.host
	}
	return strings.EqualFold(p.host, host)
}

// MatchWildcard implements the simpler "*.suffix or exact" matching used by
// strategy-level allowed-host lists, which (unlike HostPattern) carry no
// port component — a strategy validates the host it's about to sign for,
// not a listener binding.
func MatchWildcard(pattern, host string) bool {
	if strings.HasPrefix(pattern, "*.") {
		base := pattern[2:]
		return host == base || strings.HasSuffix(host, "."+base)
	}
	return pattern == host
}

// grantHosts maps a named credential grant to the upstream hosts it is
// allowed to reach. Scoped grants ("github:repo") resolve via their
// provider prefix.
var grantHosts = map[string][]string{
	"github": {
		"github.com",
		"api.github.com",
		"*.githubusercontent.com",
		"*.github.com",
	},
	"anthropic": {
		"api.anthropic.com",
		"*.anthropic.com",
	},
	"openai": {
		"api.openai.com",
		"chatgpt.com",
		"*.openai.com",
	},
	"aws": {
		"sts.amazonaws.com",
		"sts.*.amazonaws.com",
		"*.amazonaws.com",
	},
}

// HostsForGrant returns the host patterns registered for grant, or nil if
// the grant (or its provider prefix, for scoped grants like "github:repo")
// is unknown.
func HostsForGrant(grant string) []string {
	provider := grant
	if idx := strings.Index(grant, ":"); idx != -1 {
		provider = grant[:idx]
	}
	return grantHosts[provider]
}
