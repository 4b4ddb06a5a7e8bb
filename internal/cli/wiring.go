package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"trading-gateway/internal/gateway"
	"trading-gateway/internal/logging"
	"trading-gateway/internal/risk"
	"trading-gateway/pkg/config"
	"trading-gateway/pkg/credentials"
	"trading-gateway/pkg/crypto"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/exchanges/delta"
)

// loadRuntime loads and validates config and builds the root logger.
func loadRuntime() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

// credentialSource builds the env or Vault source named by the config.
func credentialSource(cfg *config.Config) (credentials.Source, error) {
	switch cfg.Credentials.Source {
	case "vault":
		v, err := credentials.NewVault(cfg.Credentials.VaultAddr, cfg.Credentials.VaultToken, cfg.Credentials.VaultPath, cfg.Venue.BaseURL)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		src := credentials.Static{
			Key:     cfg.Credentials.APIKey,
			Secret:  cfg.Credentials.APISecret,
			BaseURL: cfg.Venue.BaseURL,
		}
		if crypto.IsSealed(src.Key) || crypto.IsSealed(src.Secret) {
			kr, err := crypto.NewKeyring(cfg.Credentials.MasterKeyPrefix, os.Getenv)
			if err != nil {
				return nil, fmt.Errorf("open master key: %w", err)
			}
			src.Keyring = kr
		}
		return src, nil
	}
}

// gatewayOptions maps config onto gateway options.
func gatewayOptions(cfg *config.Config, reg prometheus.Registerer) gateway.Options {
	dcfg := delta.DefaultConfig()
	dcfg.MaxRetries = cfg.Dispatcher.MaxSignatureRetries
	dcfg.BaseDelay = cfg.Dispatcher.RetryBaseDelay
	dcfg.MaxDelay = cfg.Dispatcher.RetryMaxDelay
	dcfg.Timeout = cfg.Dispatcher.HTTPTimeout
	dcfg.RateLimit = cfg.Dispatcher.RateLimit
	dcfg.UserAgent = "trading-gateway/" + Version

	ccfg := common.DefaultClockConfig()
	ccfg.SafetyBuffer = cfg.Clock.SafetyBuffer
	ccfg.RetryStep = cfg.Clock.RetryStep
	ccfg.SyncInterval = cfg.Clock.SyncInterval

	rcfg := risk.DefaultConfig()
	rcfg.MaxDrawdownPct = cfg.Risk.MaxDrawdownPct
	rcfg.WarningRatio = cfg.Risk.WarningRatio

	return gateway.Options{
		Dispatcher:   dcfg,
		Clock:        ccfg,
		Risk:         rcfg,
		PollInterval: cfg.PollInterval,
		PriceTTL:     time.Second,
		Registerer:   reg,
	}
}

func newManager(cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) (*gateway.Manager, error) {
	src, err := credentialSource(cfg)
	if err != nil {
		return nil, err
	}
	opts := gatewayOptions(cfg, reg)
	factory := func(account string, cred common.Credential) (*gateway.Gateway, error) {
		return gateway.New(account, cred, opts, logger)
	}
	return gateway.NewManager(src, factory, gateway.DefaultManagerConfig(), logger), nil
}
