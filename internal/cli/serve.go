package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trading-gateway/internal/api"
	"trading-gateway/internal/gateway"
	"trading-gateway/internal/monitor"
	"trading-gateway/internal/persistence"
	"trading-gateway/internal/strategy"
	"trading-gateway/pkg/db"
)

var (
	serveStrategies   string
	serveStartSession bool
	serveOrigins      []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator API, balance poller and configured strategies",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveStrategies, "strategies", os.Getenv("STRATEGIES_CONFIG"), "strategies YAML file (default $STRATEGIES_CONFIG)")
	serveCmd.Flags().BoolVar(&serveStartSession, "start-session", false, "verify and activate the default account's session at boot")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "cors-origin", nil, "allowed UI origins (default any)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mgr, err := newManager(cfg, reg, logger)
	if err != nil {
		return err
	}
	reg.MustRegister(monitor.NewCollector(mgr))

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open journal db: %w", err)
	}
	defer database.Close()
	journal := persistence.NewJournal(database, persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond, logger), logger)
	defer journal.Close()

	var sink monitor.AlertSink = monitor.LogSink{Logger: logger}
	if cfg.Alerts.RedisURL != "" {
		rs, err := monitor.NewRedisSink(cfg.Alerts.RedisURL, cfg.Alerts.RedisChannel)
		if err != nil {
			return err
		}
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis alert sink unreachable, alerts will still be logged")
		}
		sink = monitor.MultiSink{sink, rs}
	}
	alerts := monitor.New(sink, logger)
	mgr.OnCreate(func(gw *gateway.Gateway) {
		journal.Attach(gw.Bus())
		alerts.Watch(ctx, gw.Bus())
		gw.Run(ctx)
	})
	mgr.Start(ctx)
	defer mgr.Stop()

	gw, err := mgr.Get(ctx, cfg.Venue.Account)
	if err != nil {
		return err
	}
	if serveStartSession {
		if err := gw.Start(ctx); err != nil {
			// The operator can retry from the API; the error is on the session.
			logger.Error().Err(err).Str("account", gw.Account()).Msg("session start failed")
		}
	}

	if serveStrategies != "" {
		if err := startStrategies(ctx, serveStrategies, mgr, cfg.Venue.Account, logger); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Options{
		Manager:        mgr,
		Journal:        journal,
		Gatherer:       reg,
		DefaultAccount: cfg.Venue.Account,
		JWTSecret:      cfg.JWTSecret,
		PasswordHash:   cfg.OperatorPasswordHash,
		AllowOrigins:   serveOrigins,
		Version:        Version,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(":" + cfg.Port) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// startStrategies runs one Runner per active entry. Each runner trades
// through its account's gateway and is gated by that gateway's session.
func startStrategies(ctx context.Context, path string, mgr *gateway.Manager, defaultAccount string, logger zerolog.Logger) error {
	cfgs, err := strategy.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	for _, c := range cfgs {
		if !c.IsActive {
			continue
		}
		account := c.Account
		if account == "" {
			account = defaultAccount
		}
		gw, err := mgr.Get(ctx, account)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", c.ID, err)
		}
		src, err := strategy.Build(c, gw)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", c.ID, err)
		}
		strategy.NewRunner(src, gw, gw, c.Interval, logger).Start(ctx)
		logger.Info().Str("strategy", c.ID).Str("type", c.Type).Str("account", account).Msg("strategy runner started")
	}
	return nil
}
