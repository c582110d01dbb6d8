// Package strategy implements the pluggable per-protocol credential
// injection used on the egress side of an intercepted request: each
// Strategy knows how to recognize its own dummy credential in a request,
// replace it with the real one, and decide whether the destination host is
// allowed to receive that credential at all.
package strategy

import (
	"fmt"
	"net/http"
)

// EnvVarNotFoundError means a strategy's configured credential environment
// variable was not set at startup.
type EnvVarNotFoundError struct {
	EnvVar string
}

func (e *EnvVarNotFoundError) Error() string {
	return fmt.Sprintf("strategy: environment variable not found: %s", e.EnvVar)
}

// InvalidCredentialError means a credential value was present but
// malformed for its strategy.
type InvalidCredentialError struct {
	Reason string
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("strategy: invalid credential: %s", e.Reason)
}

// InjectionFailedError wraps a failure that happened while injecting real
// credentials into a request (e.g. a signing failure).
type InjectionFailedError struct {
	Reason string
}

func (e *InjectionFailedError) Error() string {
	return fmt.Sprintf("strategy: injection failed: %s", e.Reason)
}

// Strategy implements one authentication protocol: detecting its own dummy
// credential, injecting the real one, and deciding which hosts may receive
// it.
type Strategy interface {
	// Name identifies this strategy instance for logging.
	Name() string
	// Type names the protocol this strategy implements ("bearer",
	// "aws_sigv4").
	Type() string
	// Detect reports whether this strategy's dummy credential appears in
	// the request's headers or body.
	Detect(headers http.Header, body string) bool
	// Inject replaces the dummy credential with the real one, returning
	// the (possibly rewritten) body. Header mutations, if any, are applied
	// to headers directly. host is the destination host (without port),
	// used by strategies whose signature depends on it (AWS SigV4).
	Inject(method, uri string, headers http.Header, body []byte, host string) ([]byte, error)
	// ValidateHost reports whether host may receive this strategy's real
	// credential.
	ValidateHost(host string) bool
	// AllowedHosts returns the configured allow-list, for inclusion in the
	// security log line when ValidateHost rejects a host. Empty means
	// permissive (no restriction was configured).
	AllowedHosts() []string
	// DummyPatterns returns the placeholder strings that should be
	// registered in the SecretMap's inject direction for this strategy.
	DummyPatterns() []string
	// RealCredential returns the real credential this strategy injects,
	// for registration in the SecretMap's sanitize direction. ok is false
	// if no credential was configured (e.g. missing environment
	// variable) — a strategy in that state can still be constructed but
	// will fail Inject at request time.
	RealCredential() (value string, ok bool)
	// ResponseTransformers returns the response transformers this strategy
	// wants run against its matched requests, in registration order. Most
	// strategies return nil.
	ResponseTransformers() []ResponseTransformer
}

// Descriptor names a configured strategy instance for the config layer
// (internal/config), decoupled from the concrete Strategy it resolves to.
type Descriptor struct {
	Name         string
	Type         string // "bearer" | "aws_sigv4"
	EnvVar       string // bearer: credential env var
	DummyPattern string // bearer: dummy placeholder
	AccessKeyEnv string // aws_sigv4
	SecretKeyEnv string // aws_sigv4
	Region       string // aws_sigv4 default region
	Service      string // aws_sigv4 default service ("execute-api" if unset)
	AllowedHosts []string
	Preset       string // bearer: named response-transformer bundle, e.g. "claude-oauth"
}
