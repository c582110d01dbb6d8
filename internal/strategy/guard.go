package strategy

import "net/http"

// HostNotWhitelistedError is returned by Guard.Check when a destination
// host is not covered by any configured strategy's allow-list and is not a
// blocked telemetry domain either — it is simply not somewhere any
// configured credential is permitted to go.
type HostNotWhitelistedError struct {
	Host string
}

func (e *HostNotWhitelistedError) Error() string {
	return "strategy: host not whitelisted: " + e.Host
}

// TelemetryBlockedError is returned by Guard.Check when a destination host
// matches a configured telemetry-blocking pattern.
type TelemetryBlockedError struct {
	Host string
}

func (e *TelemetryBlockedError) Error() string {
	return "strategy: destination blocked as telemetry: " + e.Host
}

// DefaultTelemetryDomains are blocked by default when BlockTelemetry is
// enabled, matching known analytics/crash-reporting egress points that
// have no business receiving a proxied credential.
var DefaultTelemetryDomains = []string{
	"telemetry.anthropic.com",
	"sentry.io",
	"*.sentry.io",
	"segment.com",
	"*.segment.com",
	"mixpanel.com",
	"*.mixpanel.com",
}

// Guard enforces destination-host policy across all configured strategies:
// a request may only proceed if at least one strategy whitelists the host,
// and telemetry domains are rejected outright when blocking is enabled.
type Guard struct {
	strategies       []Strategy
	blockTelemetry   bool
	telemetryDomains []string
	hostPatterns     []HostPattern
}

// NewGuard builds a Guard over strategies. If blockTelemetry is true,
// telemetryDomains (falling back to DefaultTelemetryDomains when nil) are
// rejected before any strategy's allow-list is consulted.
func NewGuard(strategies []Strategy, blockTelemetry bool, telemetryDomains []string) *Guard {
	if blockTelemetry && telemetryDomains == nil {
		telemetryDomains = DefaultTelemetryDomains
	}
	return &Guard{
		strategies:       strategies,
		blockTelemetry:   blockTelemetry,
		telemetryDomains: telemetryDomains,
	}
}

// WithHostPatterns installs a strict, strategy-independent network policy:
// every CONNECT target (including ports no strategy will ever detect a
// dummy credential for) must additionally match one of patterns. An empty
// set (the default) imposes no restriction beyond the per-strategy
// allow-lists Check already enforces.
func (g *Guard) WithHostPatterns(patterns []HostPattern) *Guard {
	g.hostPatterns = patterns
	return g
}

// Check enforces policy for a CONNECT target. It returns
// TelemetryBlockedError if host matches a blocked telemetry pattern,
// HostNotWhitelistedError if a configured strict host-pattern policy
// excludes host:port or if no strategy's allow-list covers host, or nil if
// the request may proceed.
func (g *Guard) Check(host string, port int) error {
	if g.blockTelemetry {
		for _, pattern := range g.telemetryDomains {
			if MatchWildcard(pattern, host) {
				return &TelemetryBlockedError{Host: host}
			}
		}
	}

	if len(g.hostPatterns) > 0 && !MatchHost(g.hostPatterns, host, port) {
		return &HostNotWhitelistedError{Host: host}
	}

	for _, s := range g.strategies {
		if s.ValidateHost(host) {
			return nil
		}
	}
	return &HostNotWhitelistedError{Host: host}
}

// StrategyFor returns the first configured strategy whose dummy credential
// is present in the request, or nil if none match.
func (g *Guard) StrategyFor(headers http.Header, body string) Strategy {
	for _, s := range g.strategies {
		if s.Detect(headers, body) {
			return s
		}
	}
	return nil
}
