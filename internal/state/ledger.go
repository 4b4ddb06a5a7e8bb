// Package state keeps the advisory local position ledger. The venue stays
// the source of truth; the ledger only caches what this gateway opened.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trading-gateway/internal/events"
	"trading-gateway/internal/risk"
	"trading-gateway/pkg/exchanges/common"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
	ErrPositionClosing  = errors.New("position close already in flight")
)

// Status of a ledger position.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Position is one position opened through this gateway.
type Position struct {
	ID           string              `json:"id"`
	ProductID    int64               `json:"product_id"`
	Symbol       string              `json:"symbol"`
	Side         common.PositionSide `json:"side"`
	EntryPrice   float64             `json:"entry_price"`
	Quantity     float64             `json:"quantity"`
	StopLoss     float64             `json:"stop_loss,omitempty"`
	TakeProfit   float64             `json:"take_profit,omitempty"`
	PnL          float64             `json:"pnl"`
	MarkPrice    float64             `json:"mark_price,omitempty"`
	Status       Status              `json:"status"`
	Strategy     string              `json:"strategy,omitempty"`
	OpenedAt     time.Time           `json:"opened_at"`
	ClosedAt     time.Time           `json:"closed_at,omitempty"`
	CloseOrderID string              `json:"close_order_id,omitempty"`
	Closing      bool                `json:"closing"`
}

// PnLDiff records one reconciled pnl change.
type PnLDiff struct {
	PositionID string  `json:"position_id"`
	Old        float64 `json:"old"`
	New        float64 `json:"new"`
}

// RefreshReport summarises one refresh against the venue snapshot.
type RefreshReport struct {
	At        time.Time    `json:"at"`
	Matched   int          `json:"matched"`
	Unmatched int          `json:"unmatched"`
	Degraded  bool         `json:"degraded"`
	Diffs     []PnLDiff    `json:"diffs,omitempty"`
	Metrics   risk.Metrics `json:"metrics"`
}

// Ledger tracks positions and routes opening and closing orders.
type Ledger struct {
	venue  common.Venue
	gate   common.SessionGate
	risk   *risk.Engine
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	positions map[string]*Position
	closing   map[string]chan struct{}
}

// NewLedger creates an empty ledger.
func NewLedger(venue common.Venue, gate common.SessionGate, engine *risk.Engine, bus *events.Bus, logger zerolog.Logger) *Ledger {
	return &Ledger{
		venue:     venue,
		gate:      gate,
		risk:      engine,
		bus:       bus,
		logger:    logger.With().Str("component", "ledger").Logger(),
		now:       time.Now,
		positions: make(map[string]*Position),
		closing:   make(map[string]chan struct{}),
	}
}

// OpenPosition checks the session and drawdown gates, places the order and
// records an Open position. Gate failures never reach the network.
func (l *Ledger) OpenPosition(ctx context.Context, req common.OrderRequest) (Position, error) {
	if req.ReduceOnly {
		return Position{}, fmt.Errorf("open position: reduce-only orders cannot open positions")
	}
	if err := req.Validate(); err != nil {
		return Position{}, err
	}
	if err := l.gate.Require(); err != nil {
		l.tradeFailed(req, "", false, err)
		return Position{}, err
	}

	metrics := l.Metrics()
	if err := l.risk.Check(metrics); err != nil {
		l.tradeFailed(req, "", false, err)
		return Position{}, err
	}

	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	res, err := l.venue.PlaceOrder(ctx, req)
	if err != nil {
		l.tradeFailed(req, "", false, err)
		return Position{}, err
	}

	entry := firstPositive(res.AvgFillPrice, req.LimitPrice, res.LimitPrice)
	side := common.PositionSideFor(req.Side)
	prot := risk.Protect(l.risk.Config(), side, entry, risk.Protection{StopLoss: req.StopLoss, TakeProfit: req.TakeProfit})
	p := &Position{
		ID:         res.OrderID,
		ProductID:  req.ProductID,
		Symbol:     req.Symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   req.Qty,
		StopLoss:   prot.StopLoss,
		TakeProfit: prot.TakeProfit,
		Status:     StatusOpen,
		Strategy:   req.Strategy,
		OpenedAt:   l.now(),
	}

	l.mu.Lock()
	l.positions[p.ID] = p
	out := *p
	l.mu.Unlock()

	l.bus.Publish(events.EventTradeExecuted, events.TradeExecuted{
		PositionID: p.ID,
		OrderID:    res.OrderID,
		Symbol:     p.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Qty:        req.Qty,
		Price:      entry,
		Strategy:   req.Strategy,
		Status:     res.Status,
	})
	l.logger.Info().Str("position_id", p.ID).Str("side", string(side)).Float64("qty", p.Quantity).Float64("entry", entry).Msg("position opened")
	return out, nil
}

// ClosePosition sends one opposing reduce-only Market order and marks the
// position Closed on confirmation.
func (l *Ledger) ClosePosition(ctx context.Context, id string) (Position, error) {
	l.mu.Lock()
	p, ok := l.positions[id]
	switch {
	case !ok:
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	case p.Status == StatusClosed:
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrPositionClosed, id)
	case p.Closing:
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrPositionClosing, id)
	}
	p.Closing = true
	done := make(chan struct{})
	l.closing[id] = done
	req := common.OrderRequest{
		ProductID:  p.ProductID,
		Symbol:     p.Symbol,
		Side:       p.Side.EntrySide().Opposite(),
		Type:       common.OrderTypeMarket,
		Qty:        p.Quantity,
		ReduceOnly: true,
		ClientID:   uuid.NewString(),
		Strategy:   p.Strategy,
	}
	l.mu.Unlock()

	res, err := l.venue.PlaceOrder(ctx, req)

	l.mu.Lock()
	p.Closing = false
	delete(l.closing, id)
	close(done)
	if err != nil {
		l.mu.Unlock()
		l.tradeFailed(req, id, true, err)
		return Position{}, err
	}
	p.Status = StatusClosed
	p.ClosedAt = l.now()
	p.CloseOrderID = res.OrderID
	out := *p
	l.mu.Unlock()

	l.bus.Publish(events.EventTradeExecuted, events.TradeExecuted{
		PositionID: id,
		OrderID:    res.OrderID,
		Symbol:     out.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Qty:        req.Qty,
		Price:      res.AvgFillPrice,
		Closing:    true,
		Strategy:   out.Strategy,
		Status:     res.Status,
	})
	l.bus.Publish(events.EventPositionClosed, events.PositionClosed{PositionID: id, Symbol: out.Symbol, PnL: out.PnL, OrderID: res.OrderID})
	l.logger.Info().Str("position_id", id).Str("close_order_id", res.OrderID).Float64("pnl", out.PnL).Msg("position closed")
	return out, nil
}

// WaitClose blocks until an in-flight close of id has finished. It returns
// at once when no close is running.
func (l *Ledger) WaitClose(ctx context.Context, id string) error {
	l.mu.RLock()
	done := l.closing[id]
	l.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh pulls the venue position snapshot and updates pnl on matching
// Open positions. It never creates or removes local positions. An entry
// price left unknown by the order acknowledgement is taken from the venue.
func (l *Ledger) Refresh(ctx context.Context) (RefreshReport, error) {
	report := RefreshReport{At: l.now()}
	snap, err := l.venue.Positions(ctx)
	if err != nil {
		return report, err
	}
	if snap.Degraded {
		report.Degraded = true
		report.Metrics = l.Metrics()
		return report, nil
	}

	type breach struct {
		id, symbol, level string
	}
	var breaches []breach

	l.mu.Lock()
	byProduct := make(map[int64][]*Position)
	for _, p := range l.positions {
		if p.Status == StatusOpen {
			byProduct[p.ProductID] = append(byProduct[p.ProductID], p)
		}
	}
	for _, s := range snap.Items {
		p := l.match(s, byProduct)
		if p == nil {
			report.Unmatched++
			continue
		}
		report.Matched++
		if p.PnL != s.UnrealizedPnL {
			report.Diffs = append(report.Diffs, PnLDiff{PositionID: p.ID, Old: p.PnL, New: s.UnrealizedPnL})
		}
		p.PnL = s.UnrealizedPnL
		if p.EntryPrice <= 0 && s.EntryPrice > 0 {
			p.EntryPrice = s.EntryPrice
			prot := risk.Protect(l.risk.Config(), p.Side, p.EntryPrice, risk.Protection{StopLoss: p.StopLoss, TakeProfit: p.TakeProfit})
			p.StopLoss, p.TakeProfit = prot.StopLoss, prot.TakeProfit
		}
		if s.MarkPrice > 0 {
			p.MarkPrice = s.MarkPrice
		}
		if lvl := risk.Breach(p.Side, p.MarkPrice, risk.Protection{StopLoss: p.StopLoss, TakeProfit: p.TakeProfit}); lvl != "" {
			breaches = append(breaches, breach{p.ID, p.Symbol, lvl})
		}
	}
	l.mu.Unlock()

	report.Metrics = l.Metrics()
	l.risk.Observe(report.Metrics)
	for _, b := range breaches {
		l.bus.Publish(events.EventRiskAlert, events.RiskAlert{
			Level:              risk.LevelWarning,
			CurrentDrawdownPct: report.Metrics.CurrentDrawdownPct,
			MaxDrawdownPct:     report.Metrics.MaxDrawdownPct,
			Message:            fmt.Sprintf("position %s (%s) crossed %s", b.id, b.symbol, b.level),
		})
	}
	l.logger.Debug().Int("matched", report.Matched).Int("unmatched", report.Unmatched).Msg("ledger refreshed")
	return report, nil
}

// match finds the local Open position for a venue row: by id, or by product
// when the venue row has no id and exactly one local position uses it.
func (l *Ledger) match(s common.PositionSnapshot, byProduct map[int64][]*Position) *Position {
	if s.ID != "" {
		if p, ok := l.positions[s.ID]; ok && p.Status == StatusOpen {
			return p
		}
		return nil
	}
	if cands := byProduct[s.ProductID]; s.ProductID > 0 && len(cands) == 1 {
		return cands[0]
	}
	return nil
}

// Metrics computes risk metrics over the Open positions.
func (l *Ledger) Metrics() risk.Metrics {
	l.mu.RLock()
	open := make([]risk.Exposure, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status == StatusOpen {
			open = append(open, risk.Exposure{Quantity: p.Quantity, EntryPrice: p.EntryPrice, PnL: p.PnL})
		}
	}
	l.mu.RUnlock()
	return l.risk.Compute(open)
}

// Get returns one position.
func (l *Ledger) Get(id string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns every position, oldest first.
func (l *Ledger) Positions() []Position {
	return l.list(func(*Position) bool { return true })
}

// OpenPositions returns the Open positions, oldest first.
func (l *Ledger) OpenPositions() []Position {
	return l.list(func(p *Position) bool { return p.Status == StatusOpen })
}

func (l *Ledger) list(keep func(*Position) bool) []Position {
	l.mu.RLock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		if keep(p) {
			out = append(out, *p)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (l *Ledger) tradeFailed(req common.OrderRequest, positionID string, closing bool, err error) {
	kind := common.KindOf(err)
	l.bus.Publish(events.EventTradeFailed, events.TradeFailed{
		PositionID: positionID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        req.Qty,
		Closing:    closing,
		Kind:       kind,
		Error:      err.Error(),
	})
	l.logger.Warn().Err(err).Str("kind", string(kind)).Str("position_id", positionID).Bool("closing", closing).Msg("trade failed")
}

func firstPositive(vs ...float64) float64 {
	for _, v := range vs {
		if v > 0 {
			return v
		}
	}
	return 0
}
