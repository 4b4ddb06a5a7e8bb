package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-gateway/pkg/exchanges/common"
)

// RunnerStats are cumulative runner counters.
type RunnerStats struct {
	Ticks    uint64 `json:"ticks"`
	Skipped  uint64 `json:"skipped"`
	Signals  uint64 `json:"signals"`
	Orders   uint64 `json:"orders"`
	Rejected uint64 `json:"rejected"`
}

// Runner polls a source on a fixed cadence and opens positions for
// non-neutral signals. Ticks overlapping a running one are skipped.
type Runner struct {
	source   SignalSource
	trader   Trader
	gate     common.SessionGate
	interval time.Duration
	logger   zerolog.Logger

	inFlight atomic.Bool
	ticks    atomic.Uint64
	skipped  atomic.Uint64
	signals  atomic.Uint64
	orders   atomic.Uint64
	rejected atomic.Uint64
}

// NewRunner creates a runner. interval defaults to 5s.
func NewRunner(source SignalSource, trader Trader, gate common.SessionGate, interval time.Duration, logger zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		source:   source,
		trader:   trader,
		gate:     gate,
		interval: interval,
		logger:   logger.With().Str("component", "strategy").Str("strategy", source.Name()).Logger(),
	}
}

// Start ticks until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				go r.Tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Tick runs one decision cycle. It returns false when skipped because the
// previous cycle is still running.
func (r *Runner) Tick(ctx context.Context) bool {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		return false
	}
	defer r.inFlight.Store(false)
	r.ticks.Add(1)

	if r.gate != nil && r.gate.Require() != nil {
		return true
	}

	sig, err := r.source.Next(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("signal source failed")
		return true
	}
	if sig.Action != ActionBuy && sig.Action != ActionSell {
		return true
	}
	r.signals.Add(1)

	side := common.SideBuy
	if sig.Action == ActionSell {
		side = common.SideSell
	}
	pos, err := r.trader.OpenPosition(ctx, common.OrderRequest{
		ProductID: sig.ProductID,
		Symbol:    sig.Symbol,
		Side:      side,
		Type:      common.OrderTypeMarket,
		Qty:       sig.Size,
		Strategy:  r.source.Name(),
	})
	if err != nil {
		r.rejected.Add(1)
		ev := r.logger.Warn()
		if errors.Is(err, common.ErrSessionInactive) || errors.Is(err, common.ErrRiskLimitExceeded) {
			ev = r.logger.Info()
		}
		ev.Err(err).Str("kind", string(common.KindOf(err))).Str("action", string(sig.Action)).Msg("signal not executed")
		return true
	}
	r.orders.Add(1)
	r.logger.Info().Str("position_id", pos.ID).Str("action", string(sig.Action)).Str("note", sig.Note).Msg("signal executed")
	return true
}

// Stats returns the cumulative counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Ticks:    r.ticks.Load(),
		Skipped:  r.skipped.Load(),
		Signals:  r.signals.Load(),
		Orders:   r.orders.Load(),
		Rejected: r.rejected.Load(),
	}
}
