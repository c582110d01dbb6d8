package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrewgibson-cic/slapenir/internal/mitmtls"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Inspect or install the proxy's root certificate authority",
}

var caPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the root CA certificate in PEM form",
	RunE:  runCAPrint,
}

var caInstallHintCmd = &cobra.Command{
	Use:   "install-hint",
	Short: "Print the command to trust the root CA on this OS",
	RunE:  runCAInstallHint,
}

func init() {
	caCmd.PersistentFlags().StringVar(&caDir, "ca-dir", "", "directory holding ca.crt/ca.key (generated on first run if absent)")
	caCmd.AddCommand(caPrintCmd)
	caCmd.AddCommand(caInstallHintCmd)
}

func loadCAForInspection(cacheCapacity int) (*mitmtls.CA, error) {
	if caDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default ca-dir: %w", err)
		}
		caDir = home + "/.slapenir"
	}
	if err := os.MkdirAll(caDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating ca-dir: %w", err)
	}
	return mitmtls.LoadOrGenerate(caDir, cacheCapacity)
}

func runCAPrint(cmd *cobra.Command, args []string) error {
	ca, err := loadCAForInspection(mitmtls.DefaultCacheCapacity)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(ca.CertPEM())
	return err
}

func runCAInstallHint(cmd *cobra.Command, args []string) error {
	if _, err := loadCAForInspection(mitmtls.DefaultCacheCapacity); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), `Trust this proxy's root CA before pointing an agent's HTTPS_PROXY at it:

  macOS:   sudo security add-trusted-cert -d -r trustRoot -k /Library/Keychains/System.keychain %s/ca.crt
  Linux:   sudo cp %s/ca.crt /usr/local/share/ca-certificates/slapenir.crt && sudo update-ca-certificates
  Node.js: export NODE_EXTRA_CA_CERTS=%s/ca.crt
`, caDir, caDir, caDir)
	return nil
}
