package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/internal/state"
	"trading-gateway/pkg/exchanges/common"
)

type priceSeq struct {
	prices []float64
	i      int
}

func (p *priceSeq) MarkPrice(context.Context, string) (float64, error) {
	if p.i >= len(p.prices) {
		return 0, errors.New("no more prices")
	}
	v := p.prices[p.i]
	p.i++
	return v, nil
}

type recordingTrader struct {
	mu   sync.Mutex
	reqs []common.OrderRequest
	err  error
	hold chan struct{}
}

func (r *recordingTrader) OpenPosition(_ context.Context, req common.OrderRequest) (state.Position, error) {
	if r.hold != nil {
		<-r.hold
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return state.Position{}, r.err
	}
	return state.Position{ID: "p1"}, nil
}

type gateFunc func() error

func (g gateFunc) Require() error { return g() }

func TestMomentumSignals(t *testing.T) {
	m := NewMomentum(&priceSeq{}, "BTCUSD", 27, 1, 0.01)
	assert.Equal(t, ActionNeutral, m.onPrice(100).Action)
	assert.Equal(t, ActionBuy, m.onPrice(102).Action)
	assert.Equal(t, ActionNeutral, m.onPrice(102.5).Action)
	sig := m.onPrice(99)
	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, int64(27), sig.ProductID)
}

func TestMACrossSignals(t *testing.T) {
	s, err := NewMACross(&priceSeq{}, "BTCUSD", 27, 2, 3, 1)
	require.NoError(t, err)

	for _, p := range []float64{10, 10, 10} {
		assert.Equal(t, ActionNeutral, s.onPrice(p).Action)
	}
	assert.Equal(t, ActionBuy, s.onPrice(13).Action)
	assert.Equal(t, ActionNeutral, s.onPrice(14).Action)
	assert.Equal(t, ActionSell, s.onPrice(5).Action)

	_, err = NewMACross(&priceSeq{}, "BTCUSD", 27, 5, 3, 1)
	assert.Error(t, err)
}

func TestRunnerOpensOnSignal(t *testing.T) {
	tr := &recordingTrader{}
	src := NewMomentum(&priceSeq{prices: []float64{100, 110}}, "BTCUSD", 27, 2, 0.01)
	r := NewRunner(src, tr, nil, time.Second, zerolog.Nop())

	assert.True(t, r.Tick(context.Background()))
	assert.True(t, r.Tick(context.Background()))
	require.Len(t, tr.reqs, 1)
	assert.Equal(t, common.OrderRequest{ProductID: 27, Symbol: "BTCUSD", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 2, Strategy: "momentum_BTCUSD"}, tr.reqs[0])
	assert.Equal(t, RunnerStats{Ticks: 2, Signals: 1, Orders: 1}, r.Stats())
}

func TestRunnerIdleWhileSessionInactive(t *testing.T) {
	tr := &recordingTrader{}
	feed := &priceSeq{prices: []float64{100, 110}}
	r := NewRunner(NewMomentum(feed, "BTCUSD", 27, 1, 0.01), tr, gateFunc(func() error { return common.ErrSessionInactive }), time.Second, zerolog.Nop())

	r.Tick(context.Background())
	r.Tick(context.Background())
	assert.Empty(t, tr.reqs)
	assert.Zero(t, feed.i, "source is not consulted while inactive")
}

func TestRunnerCountsRejections(t *testing.T) {
	tr := &recordingTrader{err: common.ErrRiskLimitExceeded}
	r := NewRunner(NewMomentum(&priceSeq{prices: []float64{100, 90}}, "BTCUSD", 27, 1, 0.01), tr, nil, time.Second, zerolog.Nop())
	r.Tick(context.Background())
	r.Tick(context.Background())
	assert.Equal(t, uint64(1), r.Stats().Rejected)
}

func TestRunnerSkipsOverlappingTick(t *testing.T) {
	tr := &recordingTrader{hold: make(chan struct{})}
	src := NewMomentum(&priceSeq{prices: []float64{100, 110}}, "BTCUSD", 27, 1, 0.01)
	r := NewRunner(src, tr, nil, time.Second, zerolog.Nop())
	r.Tick(context.Background())

	done := make(chan bool)
	go func() { done <- r.Tick(context.Background()) }()
	require.Eventually(t, func() bool { return r.inFlight.Load() }, time.Second, time.Millisecond)

	assert.False(t, r.Tick(context.Background()))
	close(tr.hold)
	assert.True(t, <-done)
	assert.Equal(t, uint64(1), r.Stats().Skipped)
}

func TestLoadConfigAndBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - id: s1
    type: ma_cross
    account: main
    symbol: BTCUSD
    product_id: 27
    size: 1
    interval: 10s
    is_active: true
    parameters:
      fast: 5
      slow: 20
  - id: s2
    symbol: ETHUSD
    size: 2
    parameters:
      threshold: 0.02
`), 0o600))

	cfgs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, 10*time.Second, cfgs[0].Interval)

	src, err := Build(cfgs[0], &priceSeq{})
	require.NoError(t, err)
	assert.Equal(t, "ma_cross_5_20_BTCUSD", src.Name())

	src, err = Build(cfgs[1], &priceSeq{})
	require.NoError(t, err)
	m := src.(*Momentum)
	assert.Equal(t, 0.02, m.threshold)

	_, err = Build(Config{Type: "grid", Symbol: "X", Size: 1}, &priceSeq{})
	assert.Error(t, err)
}
