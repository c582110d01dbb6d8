package strategy

import (
	"net/http"
	"os"
	"strings"
)

// Bearer implements simple Bearer-token authentication, the protocol most
// REST APIs (Anthropic, OpenAI, GitHub) use: a dummy placeholder token
// appears in the Authorization header, X-Api-Key header, or request body,
// and is swapped for the real token drawn from an environment variable.
// claudeOAuthPreset is the Descriptor.Preset value that registers
// NewOAuthScopeWorkaroundTransformer on a Bearer strategy.
const claudeOAuthPreset = "claude-oauth"

type Bearer struct {
	name         string
	envVar       string
	dummyPattern string
	allowedHosts []string
	realToken    string
	hasToken     bool
	transformers []ResponseTransformer
}

// NewBearer builds a Bearer strategy, loading its real token from envVar.
// A missing environment variable does not fail construction — it is
// logged by the caller and surfaces as EnvVarNotFoundError at Inject time,
// matching the rest of the pack's "build with partial config, fail at use"
// pattern for optional credentials.
func NewBearer(name, envVar, dummyPattern string, allowedHosts []string) *Bearer {
	token, ok := os.LookupEnv(envVar)
	return &Bearer{
		name:         name,
		envVar:       envVar,
		dummyPattern: dummyPattern,
		allowedHosts: allowedHosts,
		realToken:    token,
		hasToken:     ok,
	}
}

func (b *Bearer) Name() string { return b.name }
func (b *Bearer) Type() string { return "bearer" }

// WithPreset registers a named bundle of response transformers on this
// strategy instance. Unknown presets are ignored rather than erroring — a
// typo in a preset name should not prevent the proxy from starting, only
// silently skip the (non-security-relevant) convenience behavior.
func (b *Bearer) WithPreset(preset string) *Bearer {
	switch preset {
	case claudeOAuthPreset:
		b.transformers = append(b.transformers, NewOAuthScopeWorkaroundTransformer())
	}
	return b
}

func (b *Bearer) ResponseTransformers() []ResponseTransformer { return b.transformers }

func (b *Bearer) Detect(headers http.Header, body string) bool {
	if auth := headers.Get("Authorization"); strings.Contains(auth, b.dummyPattern) {
		return true
	}
	if key := headers.Get("X-Api-Key"); strings.Contains(key, b.dummyPattern) {
		return true
	}
	return strings.Contains(body, b.dummyPattern)
}

func (b *Bearer) Inject(method, uri string, headers http.Header, body []byte, host string) ([]byte, error) {
	if !b.hasToken {
		return body, &EnvVarNotFoundError{EnvVar: b.envVar}
	}

	if auth := headers.Get("Authorization"); auth != "" {
		headers.Set("Authorization", strings.ReplaceAll(auth, b.dummyPattern, b.realToken))
	}
	if key := headers.Get("X-Api-Key"); key != "" {
		headers.Set("X-Api-Key", strings.ReplaceAll(key, b.dummyPattern, b.realToken))
	}

	return []byte(strings.ReplaceAll(string(body), b.dummyPattern, b.realToken)), nil
}

func (b *Bearer) ValidateHost(host string) bool {
	if len(b.allowedHosts) == 0 {
		return true
	}
	for _, pattern := range b.allowedHosts {
		if MatchWildcard(pattern, host) {
			return true
		}
	}
	return false
}

func (b *Bearer) AllowedHosts() []string { return b.allowedHosts }

func (b *Bearer) DummyPatterns() []string { return []string{b.dummyPattern} }

func (b *Bearer) RealCredential() (string, bool) { return b.realToken, b.hasToken }
