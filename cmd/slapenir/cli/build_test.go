package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewgibson-cic/slapenir/internal/config"
)

func TestBuildStrategiesAppliesGrantDefaultAllowedHosts(t *testing.T) {
	t.Setenv("TEST_BUILD_ANTHROPIC_KEY", "sk-real")
	cfg := &config.Config{
		Strategies: []config.StrategyConfig{
			{
				Name: "anthropic",
				Type: config.StrategyTypeBearer,
				Config: config.StrategyParams{
					EnvVar:       "TEST_BUILD_ANTHROPIC_KEY",
					DummyPattern: "DUMMY_ANTHROPIC",
				},
			},
		},
	}

	strategies, pairs, err := buildStrategies(cfg)
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	require.Len(t, pairs, 1)

	assert.True(t, strategies[0].ValidateHost("api.anthropic.com"), "grant default should allow the provider's own host")
	assert.False(t, strategies[0].ValidateHost("evil.example.com"), "grant default must not be permissive")
}

func TestBuildStrategiesExplicitAllowedHostsOverrideGrantDefault(t *testing.T) {
	t.Setenv("TEST_BUILD_ANTHROPIC_KEY2", "sk-real")
	cfg := &config.Config{
		Strategies: []config.StrategyConfig{
			{
				Name: "anthropic",
				Type: config.StrategyTypeBearer,
				Config: config.StrategyParams{
					EnvVar:       "TEST_BUILD_ANTHROPIC_KEY2",
					DummyPattern: "DUMMY_ANTHROPIC",
					AllowedHosts: []string{"my-proxy.internal.example.com"},
				},
			},
		},
	}

	strategies, _, err := buildStrategies(cfg)
	require.NoError(t, err)
	require.Len(t, strategies, 1)

	assert.True(t, strategies[0].ValidateHost("my-proxy.internal.example.com"))
	assert.False(t, strategies[0].ValidateHost("api.anthropic.com"), "explicit config must not be merged with the grant default")
}

func TestBuildStrategiesUnknownNameStaysPermissive(t *testing.T) {
	t.Setenv("TEST_BUILD_CUSTOM_KEY", "sk-real")
	cfg := &config.Config{
		Strategies: []config.StrategyConfig{
			{
				Name: "my-internal-service",
				Type: config.StrategyTypeBearer,
				Config: config.StrategyParams{
					EnvVar:       "TEST_BUILD_CUSTOM_KEY",
					DummyPattern: "DUMMY_CUSTOM",
				},
			},
		},
	}

	strategies, _, err := buildStrategies(cfg)
	require.NoError(t, err)
	assert.True(t, strategies[0].ValidateHost("anything.example.com"))
}
