// Package gateway wires one credential set end to end and manages gateways
// per named account.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"trading-gateway/internal/balance"
	"trading-gateway/internal/events"
	"trading-gateway/internal/killswitch"
	"trading-gateway/internal/risk"
	"trading-gateway/internal/session"
	"trading-gateway/internal/state"
	"trading-gateway/pkg/cache"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/exchanges/delta"
)

// Options configures a Gateway.
type Options struct {
	Dispatcher   delta.Config
	Clock        common.ClockConfig
	Risk         risk.Config
	PollInterval time.Duration
	// PriceTTL is how long a fetched mark price is reused; 0 disables caching.
	PriceTTL time.Duration

	// Registerer receives the dispatcher collectors; nil skips registration.
	Registerer prometheus.Registerer
	HTTPClient *http.Client
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Dispatcher:   delta.DefaultConfig(),
		Clock:        common.DefaultClockConfig(),
		Risk:         risk.DefaultConfig(),
		PollInterval: 5 * time.Second,
		PriceTTL:     time.Second,
	}
}

// Gateway owns every component bound to one credential set. Nothing in it
// is shared with other gateways.
type Gateway struct {
	account string
	logger  zerolog.Logger

	bus        *events.Bus
	clock      *common.ClockSkew
	dispatcher *delta.Dispatcher
	client     *delta.Client
	session    *session.Controller
	risk       *risk.Engine
	ledger     *state.Ledger
	kill       *killswitch.Switch
	poller     *balance.Poller
	prices     *cache.PriceCache

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a gateway for cred. It performs no network I/O.
func New(account string, cred common.Credential, opts Options, logger zerolog.Logger) (*Gateway, error) {
	logger = logger.With().Str("account", account).Logger()

	clock := common.NewClockSkew(opts.Clock, logger)
	d, err := delta.NewDispatcher(cred, opts.Dispatcher, clock, logger)
	if err != nil {
		return nil, err
	}
	d.SetMetrics(delta.NewMetrics(opts.Registerer, account))
	d.SetHTTPClient(opts.HTTPClient)

	client := delta.NewClient(d, logger)
	clock.SetSource(client)

	bus := events.NewBus(account)
	sess := session.NewController(session.ProbeFunc(func(ctx context.Context) error {
		_, err := client.ProbeBalances(ctx)
		return err
	}), bus, logger)
	d.SetGate(sess)

	if opts.Risk.MaxDrawdownPct == 0 {
		opts.Risk = risk.DefaultConfig()
	}
	engine := risk.NewEngine(opts.Risk, bus, logger)
	ledger := state.NewLedger(client, sess, engine, bus, logger)

	return &Gateway{
		account:    account,
		logger:     logger.With().Str("component", "gateway").Logger(),
		bus:        bus,
		clock:      clock,
		dispatcher: d,
		client:     client,
		session:    sess,
		risk:       engine,
		ledger:     ledger,
		kill:       killswitch.New(sess, ledger, bus, logger),
		poller:     balance.NewPoller(opts.PollInterval, ledger, client, sess, logger),
		prices:     cache.NewPriceCache(opts.PriceTTL),
	}, nil
}

// Account returns the account name.
func (g *Gateway) Account() string { return g.account }

// Bus returns the gateway's event bus.
func (g *Gateway) Bus() *events.Bus { return g.bus }

// Run starts background polling until ctx is done or Close is called.
func (g *Gateway) Run(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.poller.Start(ctx)
	g.logger.Info().Msg("gateway running")
}

// Close stops polling and the session. Open positions are left untouched.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.mu.Unlock()
	g.session.Stop("gateway closed")
	return nil
}

// Start verifies the credential and activates trading.
func (g *Gateway) Start(ctx context.Context) error { return g.session.Start(ctx) }

// Stop halts new trading.
func (g *Gateway) Stop(reason string) bool { return g.session.Stop(reason) }

// KillSwitch engages the kill switch.
func (g *Gateway) KillSwitch(ctx context.Context, mode killswitch.Mode) (killswitch.Report, error) {
	return g.kill.Engage(ctx, mode)
}

// OpenPosition opens a position through the ledger.
func (g *Gateway) OpenPosition(ctx context.Context, req common.OrderRequest) (state.Position, error) {
	return g.ledger.OpenPosition(ctx, req)
}

// ClosePosition closes a ledger position.
func (g *Gateway) ClosePosition(ctx context.Context, id string) (state.Position, error) {
	return g.ledger.ClosePosition(ctx, id)
}

// Refresh reconciles the ledger now instead of waiting for the poller.
func (g *Gateway) Refresh(ctx context.Context) (state.RefreshReport, error) {
	return g.ledger.Refresh(ctx)
}

// Positions returns every ledger position.
func (g *Gateway) Positions() []state.Position { return g.ledger.Positions() }

// RiskMetrics returns current risk metrics.
func (g *Gateway) RiskMetrics() risk.Metrics { return g.ledger.Metrics() }

// Risk returns the risk engine.
func (g *Gateway) Risk() *risk.Engine { return g.risk }

// Require reports whether the session admits trading calls.
func (g *Gateway) Require() error { return g.session.Require() }

// Session returns the session snapshot.
func (g *Gateway) Session() session.Snapshot { return g.session.Snapshot() }

// Clock returns the clock offset snapshot.
func (g *Gateway) Clock() common.ClockOffset { return g.clock.Snapshot() }

// Balances returns the last polled balances.
func (g *Gateway) Balances() balance.Snapshot { return g.poller.Snapshot() }

// Poller returns the background poller.
func (g *Gateway) Poller() *balance.Poller { return g.poller }

// Products lists venue markets.
func (g *Gateway) Products(ctx context.Context) (common.Listing[common.Product], error) {
	return g.client.Products(ctx)
}

// MarkPrice returns the venue mark price for symbol, reusing a price
// fetched within PriceTTL.
func (g *Gateway) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := g.prices.Get(symbol); ok {
		return p, nil
	}
	p, err := g.client.MarkPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	g.prices.Set(symbol, p)
	return p, nil
}

// Health re-syncs the clock, which doubles as a reachability check.
func (g *Gateway) Health(ctx context.Context) error { return g.clock.Sync(ctx) }
