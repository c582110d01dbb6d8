// Package config loads and validates the proxy's YAML configuration: the
// configured auth strategies, the security policy they run under, and
// logging options.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError is returned for every validation failure: empty secret map,
// unknown strategy kind, missing required field, invalid fail_mode. It
// aborts boot — the core never starts in a partially-valid state.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Reason)
}

// Config is the root of the YAML document accepted by cmd/slapenir.
type Config struct {
	Strategies []StrategyConfig `yaml:"strategies"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// StrategyConfig names one configured strategy instance and its kind-
// specific parameters.
type StrategyConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Config StrategyParams `yaml:"config"`
}

// StrategyParams is the union of every strategy kind's fields; only the
// subset relevant to Type is read. Kept flat rather than split by kind to
// match the YAML shape operators already write.
type StrategyParams struct {
	EnvVar       string   `yaml:"env_var,omitempty"`
	DummyPattern string   `yaml:"dummy_pattern,omitempty"`
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`
	AccessKeyEnv string   `yaml:"access_key_env,omitempty"`
	SecretKeyEnv string   `yaml:"secret_key_env,omitempty"`
	Region       string   `yaml:"region,omitempty"`
	Service      string   `yaml:"service,omitempty"`
	Preset       string   `yaml:"preset,omitempty"`
}

// SecurityConfig governs fail-closed/open posture and telemetry blocking.
type SecurityConfig struct {
	FailMode         string   `yaml:"fail_mode"`
	BlockTelemetry   bool     `yaml:"block_telemetry"`
	TelemetryDomains []string `yaml:"telemetry_domains,omitempty"`
	// AllowedHostPatterns, when non-empty, is a strict network policy
	// applied to every CONNECT target regardless of which (if any)
	// strategy's dummy credential it carries — see strategy.HostPattern.
	AllowedHostPatterns []string `yaml:"allowed_host_patterns,omitempty"`
	// UpstreamCABundle, when set, is a path to a PEM file pinning upstream
	// TLS validation to exactly those roots instead of the system store.
	UpstreamCABundle string `yaml:"upstream_ca_bundle,omitempty"`
}

// LoggingConfig is opaque to the core: it is read here only to be handed to
// internal/log.Init by cmd/slapenir.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

const (
	FailModeClosed = "closed"
	FailModeOpen   = "open"

	StrategyTypeBearer   = "bearer"
	StrategyTypeAWSSigV4 = "aws_sigv4"
)

// Load reads and validates a config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse validates and returns the Config encoded in data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the core's configuration invariants: empty secret map
// (no strategies configured at all), unknown strategy kind, missing
// required per-kind field, and invalid fail_mode. The core requires
// fail_mode: closed; fail_mode: open is accepted here (so an operator can
// deliberately opt into it) but is recorded as a decided Open Question in
// DESIGN.md, not rejected outright.
func (c *Config) Validate() error {
	if len(c.Strategies) == 0 {
		return &ConfigError{Reason: "at least one strategy must be configured"}
	}

	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.Name == "" {
			return &ConfigError{Reason: fmt.Sprintf("strategies[%d]: name is required", i)}
		}
		if seen[s.Name] {
			return &ConfigError{Reason: fmt.Sprintf("strategies[%d]: duplicate strategy name %q", i, s.Name)}
		}
		seen[s.Name] = true

		switch s.Type {
		case StrategyTypeBearer:
			if s.Config.EnvVar == "" {
				return &ConfigError{Reason: fmt.Sprintf("strategies[%d] (%s): env_var is required for type bearer", i, s.Name)}
			}
			if s.Config.DummyPattern == "" {
				return &ConfigError{Reason: fmt.Sprintf("strategies[%d] (%s): dummy_pattern is required for type bearer", i, s.Name)}
			}
		case StrategyTypeAWSSigV4:
			if s.Config.AccessKeyEnv == "" {
				return &ConfigError{Reason: fmt.Sprintf("strategies[%d] (%s): access_key_env is required for type aws_sigv4", i, s.Name)}
			}
			if s.Config.SecretKeyEnv == "" {
				return &ConfigError{Reason: fmt.Sprintf("strategies[%d] (%s): secret_key_env is required for type aws_sigv4", i, s.Name)}
			}
		case "":
			return &ConfigError{Reason: fmt.Sprintf("strategies[%d] (%s): type is required", i, s.Name)}
		default:
			return &ConfigError{Reason: fmt.Sprintf("strategies[%d] (%s): unknown strategy type %q", i, s.Name, s.Type)}
		}
	}

	switch c.Security.FailMode {
	case FailModeClosed, FailModeOpen:
	case "":
		c.Security.FailMode = FailModeClosed
	default:
		return &ConfigError{Reason: fmt.Sprintf("security.fail_mode: invalid value %q, must be %q or %q", c.Security.FailMode, FailModeClosed, FailModeOpen)}
	}

	return nil
}
