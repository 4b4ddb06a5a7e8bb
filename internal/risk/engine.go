package risk

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"trading-gateway/internal/events"
)

// Engine computes risk metrics and gates new positions on drawdown.
type Engine struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu        sync.RWMutex
	cfg       Config
	lastLevel string

	checks     atomic.Uint64
	rejections atomic.Uint64
	warnings   atomic.Uint64
}

// NewEngine creates an engine. cfg is expected to be validated.
func NewEngine(cfg Config, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		bus:       bus,
		logger:    logger.With().Str("component", "risk").Logger(),
		lastLevel: LevelNormal,
	}
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig swaps the configuration after validating it.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info().Float64("max_drawdown_pct", cfg.MaxDrawdownPct).Msg("risk config updated")
	return nil
}

// Compute derives metrics from the open positions:
//
//	totalEquity        = sum(pnl)
//	totalExposure      = sum(|qty * entry|)
//	exposurePct        = totalExposure / totalEquity * 100 (0 when equity is 0)
//	currentDrawdownPct = |totalEquity| / totalExposure * 100 when equity < 0, else 0
func (e *Engine) Compute(open []Exposure) Metrics {
	cfg := e.Config()
	m := Metrics{MaxDrawdownPct: cfg.MaxDrawdownPct, OpenPositions: len(open)}
	for _, p := range open {
		m.TotalEquity += p.PnL
		m.TotalExposure += math.Abs(p.Quantity * p.EntryPrice)
	}
	if m.TotalEquity != 0 {
		m.ExposurePct = m.TotalExposure / m.TotalEquity * 100
	}
	if m.TotalEquity < 0 && m.TotalExposure > 0 {
		m.CurrentDrawdownPct = math.Abs(m.TotalEquity) / m.TotalExposure * 100
	}
	m.LimitLevel = level(cfg, m.CurrentDrawdownPct)
	return m
}

// Check gates a new position. It returns a *LimitError when the current
// drawdown has reached the limit.
func (e *Engine) Check(m Metrics) error {
	e.checks.Add(1)
	e.observe(m)
	if m.CurrentDrawdownPct >= m.MaxDrawdownPct {
		e.rejections.Add(1)
		e.logger.Warn().
			Float64("drawdown_pct", m.CurrentDrawdownPct).
			Float64("max_drawdown_pct", m.MaxDrawdownPct).
			Msg("new position rejected by drawdown limit")
		return &LimitError{CurrentDrawdownPct: m.CurrentDrawdownPct, MaxDrawdownPct: m.MaxDrawdownPct}
	}
	return nil
}

// Observe publishes an alert when metrics cross into a higher limit level.
func (e *Engine) Observe(m Metrics) { e.observe(m) }

func (e *Engine) observe(m Metrics) {
	e.mu.Lock()
	prev := e.lastLevel
	e.lastLevel = m.LimitLevel
	e.mu.Unlock()

	if rank(m.LimitLevel) <= rank(prev) {
		return
	}
	if m.LimitLevel == LevelWarning {
		e.warnings.Add(1)
	}
	e.bus.Publish(events.EventRiskAlert, events.RiskAlert{
		Level:              m.LimitLevel,
		CurrentDrawdownPct: m.CurrentDrawdownPct,
		MaxDrawdownPct:     m.MaxDrawdownPct,
		Message:            "drawdown " + m.LimitLevel,
	})
}

// Stats returns the cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ChecksTotal:     e.checks.Load(),
		RejectionsTotal: e.rejections.Load(),
		WarningsTotal:   e.warnings.Load(),
	}
}

func level(cfg Config, drawdown float64) string {
	switch {
	case drawdown >= cfg.MaxDrawdownPct:
		return LevelLimit
	case cfg.WarningRatio > 0 && drawdown >= cfg.MaxDrawdownPct*cfg.WarningRatio:
		return LevelWarning
	default:
		return LevelNormal
	}
}

func rank(l string) int {
	switch l {
	case LevelWarning:
		return 1
	case LevelLimit:
		return 2
	default:
		return 0
	}
}
