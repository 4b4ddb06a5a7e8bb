package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/internal/events"
	"trading-gateway/internal/gateway/gatewaytest"
	"trading-gateway/internal/killswitch"
	"trading-gateway/internal/session"
	"trading-gateway/internal/state"
	"trading-gateway/pkg/exchanges/common"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Dispatcher.RateLimit = 0
	opts.Dispatcher.BaseDelay = time.Millisecond
	opts.Dispatcher.MaxDelay = time.Millisecond
	opts.Dispatcher.IgnoreDateHeader = true
	opts.Registerer = prometheus.NewRegistry()
	return opts
}

func newTestGateway(t *testing.T) (*Gateway, *gatewaytest.Venue) {
	t.Helper()
	v := gatewaytest.NewVenue(t)
	gw, err := New("main", common.Credential{Key: "key1", Secret: "secret1", BaseURL: v.URL}, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw, v
}

func TestNewRejectsMalformedCredential(t *testing.T) {
	_, err := New("main", common.Credential{Key: "", Secret: "s", BaseURL: "http://x"}, testOptions(), zerolog.Nop())
	assert.ErrorIs(t, err, common.ErrInvalidCredentialFormat)
}

func TestLifecycleEndToEnd(t *testing.T) {
	gw, v := newTestGateway(t)
	ctx := context.Background()
	ch, unsub := gw.Bus().Subscribe(events.EventAll, 64)
	defer unsub()

	_, err := gw.OpenPosition(ctx, common.OrderRequest{ProductID: 27, Symbol: "BTCUSD", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	assert.ErrorIs(t, err, common.ErrSessionInactive)
	assert.Empty(t, v.Orders())

	require.NoError(t, gw.Start(ctx))
	assert.Equal(t, session.StateActive, gw.Session().State)
	assert.Equal(t, common.SourceSync, gw.Clock().Source)

	pos, err := gw.OpenPosition(ctx, common.OrderRequest{ProductID: 27, Symbol: "BTCUSD", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, state.StatusOpen, pos.Status)
	assert.InDelta(t, 100, pos.EntryPrice, 1e-9)

	rep, err := gw.KillSwitch(ctx, killswitch.ModeBoth)
	require.NoError(t, err)
	assert.True(t, rep.SessionStopped)
	assert.Equal(t, []string{pos.ID}, rep.Closed)
	assert.Equal(t, session.StateStopped, gw.Session().State)
	require.Len(t, v.Orders(), 2)
	assert.Contains(t, v.Orders()[1], `"reduce_only":true`)

	topics := map[events.Event]int{}
	for len(ch) > 0 {
		topics[(<-ch).Topic]++
	}
	assert.Equal(t, 1, topics[events.EventStrategyStarted])
	assert.Equal(t, 1, topics[events.EventPositionClosed])
	assert.Equal(t, 1, topics[events.EventKillSwitchEngaged])
	assert.GreaterOrEqual(t, topics[events.EventStrategyStopped], 1)
}

func TestStartWithRejectedKeyEndsInError(t *testing.T) {
	gw, v := newTestGateway(t)
	v.RejectKey(true)

	err := gw.Start(context.Background())
	require.ErrorIs(t, err, common.ErrAuthenticationRejected)
	snap := gw.Session()
	assert.Equal(t, session.StateError, snap.State)
	assert.Equal(t, common.KindAuthenticationRejected, snap.ErrorKind)
}

func TestRefreshAndBalances(t *testing.T) {
	gw, v := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))
	pos, err := gw.OpenPosition(ctx, common.OrderRequest{ProductID: 27, Symbol: "BTCUSD", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	require.NoError(t, err)

	v.SetPositions(`[{"product_id":27,"product_symbol":"BTCUSD","size":1,"entry_price":"100","mark_price":"90","unrealized_pnl":"-10"}]`)
	require.True(t, gw.Poller().Tick(ctx))

	got, ok := func() (state.Position, bool) {
		for _, p := range gw.Positions() {
			if p.ID == pos.ID {
				return p, true
			}
		}
		return state.Position{}, false
	}()
	require.True(t, ok)
	assert.InDelta(t, -10, got.PnL, 1e-9)
	assert.InDelta(t, 10, gw.RiskMetrics().CurrentDrawdownPct, 1e-9)

	bals := gw.Balances()
	require.Len(t, bals.Balances, 1)
	assert.Equal(t, "USDT", bals.Balances[0].Asset)
	assert.Equal(t, 1, bals.LastReport.Matched)
}

func TestMarkPriceReusesFreshPrice(t *testing.T) {
	gw, v := newTestGateway(t)
	ctx := context.Background()

	p, err := gw.MarkPrice(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.InDelta(t, 100, p, 1e-9)

	v.SetPrice("120")
	p, err = gw.MarkPrice(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.InDelta(t, 100, p, 1e-9, "second read within the TTL is served from cache")

	opts := testOptions()
	opts.PriceTTL = 0
	uncached, err := New("alt", common.Credential{Key: "key1", Secret: "secret1", BaseURL: v.URL}, opts, zerolog.Nop())
	require.NoError(t, err)
	p, err = uncached.MarkPrice(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.InDelta(t, 120, p, 1e-9)
}
