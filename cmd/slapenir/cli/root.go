// Package cli implements the slapenir command-line interface using Cobra:
// a serve subcommand that boots the proxy core from a config file, and a
// ca subcommand pair for the out-of-band trust-store install step.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/andrewgibson-cic/slapenir/internal/log"
)

var (
	verbose    bool
	jsonFormat bool
)

var rootCmd = &cobra.Command{
	Use:   "slapenir",
	Short: "Egress-side credential-sanitizing HTTPS MITM proxy",
	Long: `slapenir terminates HTTPS CONNECT tunnels under a locally-trusted CA,
injects real credentials in place of configured dummy placeholders on the
way out, and sanitizes any real credential it sees on the way back before
it reaches the client. No real credential is ever visible to the client
the proxy serves.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonFormat,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonFormat, "json", false, "emit stderr logs as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(caCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
