package cli

import (
	"fmt"

	"github.com/andrewgibson-cic/slapenir/internal/config"
	"github.com/andrewgibson-cic/slapenir/internal/secretmap"
	"github.com/andrewgibson-cic/slapenir/internal/strategy"
)

// buildStrategies constructs one strategy.Strategy per configured entry and
// the secretmap.Pair set to register for it. A strategy missing its real
// credential at boot is still constructed — a missing environment variable
// is not a construction error — but contributes no pair, since SecretMap
// has nothing to sanitize for it until the variable is set.
func buildStrategies(cfg *config.Config) ([]strategy.Strategy, []secretmap.Pair, error) {
	strategies := make([]strategy.Strategy, 0, len(cfg.Strategies))
	var pairs []secretmap.Pair

	for _, sc := range cfg.Strategies {
		var s strategy.Strategy
		allowedHosts := allowedHostsOrGrantDefault(sc.Name, sc.Config.AllowedHosts)

		switch sc.Type {
		case config.StrategyTypeBearer:
			s = strategy.NewBearer(sc.Name, sc.Config.EnvVar, sc.Config.DummyPattern, allowedHosts).WithPreset(sc.Config.Preset)
		case config.StrategyTypeAWSSigV4:
			s = strategy.NewAWSSigV4(sc.Name, sc.Config.AccessKeyEnv, sc.Config.SecretKeyEnv, sc.Config.Region, sc.Config.Service, allowedHosts)
		default:
			return nil, nil, fmt.Errorf("unknown strategy type %q for %q", sc.Type, sc.Name)
		}

		strategies = append(strategies, s)

		if real, ok := s.RealCredential(); ok {
			for _, dummy := range s.DummyPatterns() {
				pairs = append(pairs, secretmap.Pair{Dummy: dummy, Real: real})
			}
		}
	}

	return strategies, pairs, nil
}

// allowedHostsOrGrantDefault returns configured unchanged if non-empty;
// otherwise it looks up a default allow-list for a strategy name that
// matches a known credential grant (e.g. a strategy named "anthropic" or
// "github:repo" gets that provider's known API hosts), so an operator
// naming a strategy after the service it authenticates need not also
// repeat that service's hostnames verbatim. A strategy whose name matches
// no known grant gets no default and remains permissive, as before.
func allowedHostsOrGrantDefault(name string, configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return strategy.HostsForGrant(name)
}
