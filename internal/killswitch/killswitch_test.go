package killswitch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/internal/events"
	"trading-gateway/internal/risk"
	"trading-gateway/internal/session"
	"trading-gateway/internal/state"
	"trading-gateway/pkg/exchanges/common"
)

type venue struct {
	mu      sync.Mutex
	orders  []common.OrderRequest
	n       int
	onPlace func(req common.OrderRequest) error
	snap    common.Listing[common.PositionSnapshot]
}

func (v *venue) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	v.mu.Lock()
	v.orders = append(v.orders, req)
	v.n++
	id := strconv.Itoa(v.n)
	hook := v.onPlace
	v.mu.Unlock()
	if hook != nil {
		if err := hook(req); err != nil {
			return common.OrderResult{}, err
		}
	}
	return common.OrderResult{OrderID: id, Status: common.StatusFilled, AvgFillPrice: 100}, nil
}

func (v *venue) Positions(context.Context) (common.Listing[common.PositionSnapshot], error) {
	return v.snap, nil
}

func (v *venue) placed() []common.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]common.OrderRequest(nil), v.orders...)
}

type rig struct {
	venue   *venue
	session *session.Controller
	ledger  *state.Ledger
	ks      *Switch
	bus     *events.Bus
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{venue: &venue{}, bus: events.NewBus("test")}
	r.session = session.NewController(session.ProbeFunc(func(context.Context) error { return nil }), r.bus, zerolog.Nop())
	r.ledger = state.NewLedger(r.venue, r.session, risk.NewEngine(risk.DefaultConfig(), r.bus, zerolog.Nop()), r.bus, zerolog.Nop())
	r.ks = New(r.session, r.ledger, r.bus, zerolog.Nop())
	require.NoError(t, r.session.Start(context.Background()))
	return r
}

func (r *rig) open(t *testing.T, side common.Side) state.Position {
	t.Helper()
	p, err := r.ledger.OpenPosition(context.Background(), common.OrderRequest{
		ProductID: 27, Symbol: "BTCUSD", Side: side, Type: common.OrderTypeMarket, Qty: 1,
	})
	require.NoError(t, err)
	return p
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" both ")
	require.NoError(t, err)
	assert.Equal(t, ModeBoth, m)
	_, err = ParseMode("panic")
	assert.Error(t, err)

	r := newRig(t)
	_, err = r.ks.Engage(context.Background(), Mode("nope"))
	assert.Error(t, err)
}

func TestPreventNewLeavesPositions(t *testing.T) {
	r := newRig(t)
	p := r.open(t, common.SideBuy)

	rep, err := r.ks.Engage(context.Background(), ModePreventNew)
	require.NoError(t, err)
	assert.True(t, rep.SessionStopped)
	assert.Empty(t, rep.Closed)
	assert.Equal(t, session.StateStopped, r.session.State())

	got, _ := r.ledger.Get(p.ID)
	assert.Equal(t, state.StatusOpen, got.Status)

	_, err = r.ledger.OpenPosition(context.Background(), common.OrderRequest{ProductID: 27, Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	assert.ErrorIs(t, err, common.ErrSessionInactive)

	rep, err = r.ks.Engage(context.Background(), ModePreventNew)
	require.NoError(t, err)
	assert.False(t, rep.SessionStopped, "second invocation is a no-op")
}

func TestCloseAllKeepsSessionActive(t *testing.T) {
	r := newRig(t)
	a := r.open(t, common.SideBuy)
	b := r.open(t, common.SideSell)

	rep, err := r.ks.Engage(context.Background(), ModeCloseAll)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, rep.Closed)
	assert.Equal(t, session.StateActive, r.session.State())
	assert.Empty(t, r.ledger.OpenPositions())

	placed := r.venue.placed()
	require.Len(t, placed, 4)
	assert.Equal(t, common.SideSell, placed[2].Side)
	assert.Equal(t, common.SideBuy, placed[3].Side)

	rep, err = r.ks.Engage(context.Background(), ModeCloseAll)
	require.NoError(t, err)
	assert.Empty(t, rep.Closed)
	assert.Len(t, r.venue.placed(), 4, "idempotent: nothing left to close")
}

func TestBothStopsSessionBeforeClosures(t *testing.T) {
	r := newRig(t)
	r.open(t, common.SideBuy)
	r.open(t, common.SideBuy)

	release := make(chan struct{})
	firstClose := make(chan struct{})
	var once sync.Once
	var statesAtClose []session.State
	r.venue.onPlace = func(req common.OrderRequest) error {
		if req.ReduceOnly {
			statesAtClose = append(statesAtClose, r.session.State())
			once.Do(func() { close(firstClose) })
			<-release
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.ks.Engage(context.Background(), ModeBoth)
		done <- err
	}()

	select {
	case <-firstClose:
	case <-time.After(time.Second):
		t.Fatal("no closing order sent")
	}

	// A close is in flight: new positions must already be refused.
	_, err := r.ledger.OpenPosition(context.Background(), common.OrderRequest{ProductID: 27, Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	assert.ErrorIs(t, err, common.ErrSessionInactive)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []session.State{session.StateStopped, session.StateStopped}, statesAtClose)
	assert.Empty(t, r.ledger.OpenPositions())
	assert.Len(t, r.venue.placed(), 4)
}

func TestCloseFailuresAreJoined(t *testing.T) {
	r := newRig(t)
	a := r.open(t, common.SideBuy)
	b := r.open(t, common.SideBuy)

	boom := errors.New("venue down")
	r.venue.onPlace = func(req common.OrderRequest) error {
		if req.ReduceOnly && len(r.venue.placed()) == 3 {
			return boom
		}
		return nil
	}
	kills, unsub := r.bus.Subscribe(events.EventKillSwitchEngaged, 1)
	defer unsub()

	rep, err := r.ks.Engage(context.Background(), ModeBoth)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{a.ID}, rep.Failed)
	assert.Equal(t, []string{b.ID}, rep.Closed)

	ev := (<-kills).Payload.(events.KillSwitchEngaged)
	assert.Equal(t, string(ModeBoth), ev.Mode)
	assert.Equal(t, []string{a.ID}, ev.Failed)

	r.venue.onPlace = nil
	rep, err = r.ks.Engage(context.Background(), ModeCloseAll)
	require.NoError(t, err, "closing still works after the session is stopped")
	assert.Equal(t, []string{a.ID}, rep.Closed)
}

func TestCloseAllRetriesAfterFailedConcurrentClose(t *testing.T) {
	r := newRig(t)
	p := r.open(t, common.SideBuy)

	boom := errors.New("venue down")
	release := make(chan struct{})
	var mu sync.Mutex
	closes := 0
	r.venue.onPlace = func(req common.OrderRequest) error {
		if !req.ReduceOnly {
			return nil
		}
		mu.Lock()
		closes++
		first := closes == 1
		mu.Unlock()
		if first {
			<-release
			return boom
		}
		return nil
	}

	manual := make(chan error, 1)
	go func() {
		_, err := r.ledger.ClosePosition(context.Background(), p.ID)
		manual <- err
	}()
	require.Eventually(t, func() bool { return len(r.venue.placed()) == 2 }, time.Second, time.Millisecond)

	type result struct {
		rep Report
		err error
	}
	engaged := make(chan result, 1)
	go func() {
		rep, err := r.ks.Engage(context.Background(), ModeCloseAll)
		engaged <- result{rep, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.ErrorIs(t, <-manual, boom)
	res := <-engaged
	require.NoError(t, res.err)
	assert.Equal(t, []string{p.ID}, res.rep.Closed)
	assert.Empty(t, res.rep.Failed)

	got, _ := r.ledger.Get(p.ID)
	assert.Equal(t, state.StatusClosed, got.Status)
	assert.Len(t, r.venue.placed(), 3, "one failed manual close and one kill switch close")
}

func TestCloseAllWaitsForSuccessfulConcurrentClose(t *testing.T) {
	r := newRig(t)
	p := r.open(t, common.SideBuy)

	release := make(chan struct{})
	r.venue.onPlace = func(req common.OrderRequest) error {
		if req.ReduceOnly {
			<-release
		}
		return nil
	}

	manual := make(chan error, 1)
	go func() {
		_, err := r.ledger.ClosePosition(context.Background(), p.ID)
		manual <- err
	}()
	require.Eventually(t, func() bool { return len(r.venue.placed()) == 2 }, time.Second, time.Millisecond)

	engaged := make(chan error, 1)
	var rep Report
	go func() {
		var err error
		rep, err = r.ks.Engage(context.Background(), ModeCloseAll)
		engaged <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-manual)
	require.NoError(t, <-engaged)
	assert.Equal(t, []string{p.ID}, rep.Closed)
	assert.Len(t, r.venue.placed(), 2, "no second closing order")
}

func TestCloseAllFailsWhenWaitIsCancelled(t *testing.T) {
	r := newRig(t)
	p := r.open(t, common.SideBuy)

	release := make(chan struct{})
	defer close(release)
	r.venue.onPlace = func(req common.OrderRequest) error {
		if req.ReduceOnly {
			<-release
		}
		return nil
	}
	go func() { _, _ = r.ledger.ClosePosition(context.Background(), p.ID) }()
	require.Eventually(t, func() bool { return len(r.venue.placed()) == 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rep, err := r.ks.Engage(ctx, ModeCloseAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{p.ID}, rep.Failed)
	assert.Empty(t, rep.Closed)
}

func TestBothClosesPositionOpenedDuringStop(t *testing.T) {
	r := newRig(t)
	first := r.open(t, common.SideBuy)

	releaseOpen := make(chan struct{})
	openDone := make(chan struct{})
	var once sync.Once
	r.venue.onPlace = func(req common.OrderRequest) error {
		if !req.ReduceOnly {
			<-releaseOpen
			return nil
		}
		once.Do(func() {
			close(releaseOpen)
			<-openDone
		})
		return nil
	}

	var late state.Position
	var lateErr error
	go func() {
		late, lateErr = r.ledger.OpenPosition(context.Background(), common.OrderRequest{
			ProductID: 27, Symbol: "BTCUSD", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1,
		})
		close(openDone)
	}()
	require.Eventually(t, func() bool { return len(r.venue.placed()) == 2 }, time.Second, time.Millisecond)

	rep, err := r.ks.Engage(context.Background(), ModeBoth)
	require.NoError(t, err)
	<-openDone
	require.NoError(t, lateErr)

	assert.Equal(t, []string{first.ID, late.ID}, rep.Closed)
	assert.Empty(t, r.ledger.OpenPositions())
}

func TestScenarioOpenRefreshCloseAll(t *testing.T) {
	r := newRig(t)
	p := r.open(t, common.SideBuy)
	assert.InDelta(t, 100, p.EntryPrice, 1e-9)

	r.venue.snap = common.Listing[common.PositionSnapshot]{Items: []common.PositionSnapshot{{ID: p.ID, UnrealizedPnL: -5}}}
	_, err := r.ledger.Refresh(context.Background())
	require.NoError(t, err)

	m := r.ledger.Metrics()
	assert.InDelta(t, 100, m.TotalExposure, 1e-9)
	assert.InDelta(t, -5, m.TotalEquity, 1e-9)
	assert.InDelta(t, 5, m.CurrentDrawdownPct, 1e-9)

	_, err = r.ks.Engage(context.Background(), ModeCloseAll)
	require.NoError(t, err)

	got, _ := r.ledger.Get(p.ID)
	assert.Equal(t, state.StatusClosed, got.Status)

	var closing []common.OrderRequest
	for _, o := range r.venue.placed() {
		if o.ReduceOnly {
			closing = append(closing, o)
		}
	}
	require.Len(t, closing, 1)
	assert.Equal(t, common.SideSell, closing[0].Side)
	assert.Equal(t, common.OrderTypeMarket, closing[0].Type)
}
