package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"trading-gateway/internal/balance"
	"trading-gateway/internal/gateway"
	"trading-gateway/internal/session"
	"trading-gateway/pkg/exchanges/common"
)

var (
	probeAccount string
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Verify credentials once and print session, clock and balances",
	Long: `Probe builds a gateway for one account, runs the session verification
probe, and prints the resulting session state, clock offset and wallet
balances as JSON. It exits non-zero when the session does not become active.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVar(&probeAccount, "account", "", "account name (default $DELTA_ACCOUNT)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "overall probe timeout")
}

// ProbeResult is printed by the probe command.
type ProbeResult struct {
	Account  string             `json:"account"`
	Session  session.Snapshot   `json:"session"`
	Clock    common.ClockOffset `json:"clock"`
	Balances balance.Snapshot   `json:"balances"`
	Error    string             `json:"error,omitempty"`
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	account := probeAccount
	if account == "" {
		account = cfg.Venue.Account
	}
	src, err := credentialSource(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	cred, err := src.Load(ctx, account)
	if err != nil {
		return err
	}
	gw, err := gateway.New(account, cred, gatewayOptions(cfg, nil), logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	res, startErr := probe(ctx, gw)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if startErr != nil {
		return fmt.Errorf("probe %s: %s: %w", account, common.KindOf(startErr), startErr)
	}
	return nil
}

// probe starts the session and, once active, runs one balance poll.
func probe(ctx context.Context, gw *gateway.Gateway) (ProbeResult, error) {
	err := gw.Start(ctx)
	if err == nil {
		gw.Poller().Tick(ctx)
	}
	res := ProbeResult{
		Account:  gw.Account(),
		Session:  gw.Session(),
		Clock:    gw.Clock(),
		Balances: gw.Balances(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res, err
}
