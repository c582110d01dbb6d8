package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/andrewgibson-cic/slapenir/internal/config"
	"github.com/andrewgibson-cic/slapenir/internal/log"
	"github.com/andrewgibson-cic/slapenir/internal/metrics"
	"github.com/andrewgibson-cic/slapenir/internal/mitmtls"
	"github.com/andrewgibson-cic/slapenir/internal/secretmap"
	"github.com/andrewgibson-cic/slapenir/internal/secrets"
	"github.com/andrewgibson-cic/slapenir/internal/strategy"
	"github.com/andrewgibson-cic/slapenir/internal/tunnel"
)

const shutdownGrace = 10 * time.Second

var (
	configPath    string
	caDir         string
	bindAddr      string
	port          int
	metricsAddr   string
	cacheCapacity int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy listener",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "slapenir.yaml", "path to the strategy/security config file")
	serveCmd.Flags().StringVar(&caDir, "ca-dir", "", "directory holding ca.crt/ca.key (generated on first run if absent)")
	serveCmd.Flags().StringVar(&bindAddr, "bind", "127.0.0.1", "address to bind the proxy listener to")
	serveCmd.Flags().IntVar(&port, "port", 0, "port to bind the proxy listener to (0 = OS-assigned)")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (empty disables it)")
	serveCmd.Flags().IntVar(&cacheCapacity, "cert-cache-capacity", mitmtls.DefaultCacheCapacity, "maximum number of cached TLS leaf certificates")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := resolveCredentialEnvVars(ctx, cfg); err != nil {
		return fmt.Errorf("resolving strategy credential references: %w", err)
	}

	if caDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving default ca-dir: %w", err)
		}
		caDir = home + "/.slapenir"
	}
	if err := os.MkdirAll(caDir, 0o700); err != nil {
		return fmt.Errorf("creating ca-dir: %w", err)
	}

	ca, err := mitmtls.LoadOrGenerate(caDir, cacheCapacity)
	if err != nil {
		return fmt.Errorf("loading or generating CA: %w", err)
	}
	acceptor := mitmtls.NewAcceptor(ca)

	trustStore, err := buildTrustStore(cfg.Security.UpstreamCABundle)
	if err != nil {
		return err
	}

	strategies, pairs, err := buildStrategies(cfg)
	if err != nil {
		return err
	}

	secretMap, err := secretmap.New(pairs)
	if err != nil {
		return fmt.Errorf("building secret map: %w", err)
	}
	defer secretMap.Close()

	guard := strategy.NewGuard(strategies, cfg.Security.BlockTelemetry, cfg.Security.TelemetryDomains)
	if len(cfg.Security.AllowedHostPatterns) > 0 {
		patterns := make([]strategy.HostPattern, len(cfg.Security.AllowedHostPatterns))
		for i, p := range cfg.Security.AllowedHostPatterns {
			patterns[i] = strategy.ParseHostPattern(p)
		}
		guard = guard.WithHostPatterns(patterns)
	}

	registry := prometheus.NewRegistry()
	rec := metrics.NewRecorder(registry)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, registry)
	}

	driver := tunnel.NewDriver(acceptor, trustStore, guard, strategies, secretMap, rec)
	server := tunnel.NewServer(driver)
	server.SetBindAddr(bindAddr)
	server.SetPort(port)

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}
	log.Info("proxy listening", "subsystem", "cli", "addr", server.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "slapenir listening on %s\n", server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// buildTrustStore returns a TrustStore pinned to caBundlePath's contents if
// set, otherwise the system root store. Operators running the proxy inside
// an environment with its own internal CA (a corporate MITM layer of their
// own, or a private cloud endpoint) pin upstream validation to that bundle
// rather than trusting whatever roots the host happens to carry.
func buildTrustStore(caBundlePath string) (*mitmtls.TrustStore, error) {
	if caBundlePath == "" {
		trustStore, err := mitmtls.SystemTrustStore()
		if err != nil {
			return nil, fmt.Errorf("loading system trust store: %w", err)
		}
		return trustStore, nil
	}

	pem, err := os.ReadFile(caBundlePath)
	if err != nil {
		return nil, fmt.Errorf("reading upstream CA bundle: %w", err)
	}
	trustStore, err := mitmtls.TrustStoreFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("loading upstream CA bundle: %w", err)
	}
	return trustStore, nil
}

// resolveCredentialEnvVars lets an operator store a strategy's backing
// credential as an external reference (op://, ssm://) in the named
// environment variable instead of the literal secret; any variable whose
// current value carries a registered scheme is resolved and rewritten in
// place before strategies are constructed from os.LookupEnv.
func resolveCredentialEnvVars(ctx context.Context, cfg *config.Config) error {
	refs := make(map[string]string)
	for _, sc := range cfg.Strategies {
		for _, name := range []string{sc.Config.EnvVar, sc.Config.AccessKeyEnv, sc.Config.SecretKeyEnv} {
			if name == "" {
				continue
			}
			if v, ok := os.LookupEnv(name); ok && strings.Contains(v, "://") {
				refs[name] = v
			}
		}
	}
	if len(refs) == 0 {
		return nil
	}

	resolved, err := secrets.ResolveAll(ctx, refs)
	if err != nil {
		return err
	}
	for name, value := range resolved {
		os.Setenv(name, value)
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "subsystem", "cli", "err", err.Error())
	}
}
