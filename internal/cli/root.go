// Package cli holds the gateway's cobra commands.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X trading-gateway/internal/cli.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "trading-gateway",
	Short: "Authenticated, clock-tolerant gateway to the Delta derivatives venue",
	Long: `trading-gateway signs and dispatches venue requests, gates trading behind a
verified session and a drawdown limit, and exposes an operator API.

Commands:
  - serve: run the API, poller and configured strategies
  - probe: verify credentials once and print session, clock and balances
  - sign: print the canonical string and signature for a request
  - encrypt-secret: seal an API secret with the master key
  - hash-password: bcrypt an operator password`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
