package risk

import (
	"fmt"

	"trading-gateway/pkg/exchanges/common"
)

// Limit levels reported in metrics and alerts.
const (
	LevelNormal  = "NORMAL"
	LevelWarning = "WARNING"
	LevelLimit   = "LIMIT"
)

// Config defines the drawdown gate.
type Config struct {
	MaxDrawdownPct float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	// WarningRatio of MaxDrawdownPct at which a warning alert is raised.
	WarningRatio float64 `json:"warning_ratio" yaml:"warning_ratio"`

	// Protective levels applied when an order carries none (fractions of entry, 0 disables).
	DefaultStopLoss   float64 `json:"default_stop_loss" yaml:"default_stop_loss"`
	DefaultTakeProfit float64 `json:"default_take_profit" yaml:"default_take_profit"`
}

// DefaultConfig returns the default risk configuration.
func DefaultConfig() Config {
	return Config{
		MaxDrawdownPct: 20,
		WarningRatio:   0.8,
	}
}

// Validate rejects configurations that would gate everything or nothing.
func (c Config) Validate() error {
	if c.MaxDrawdownPct <= 0 {
		return fmt.Errorf("risk: max drawdown must be positive, got %v", c.MaxDrawdownPct)
	}
	if c.WarningRatio < 0 || c.WarningRatio > 1 {
		return fmt.Errorf("risk: warning ratio must be within [0,1], got %v", c.WarningRatio)
	}
	if c.DefaultStopLoss < 0 || c.DefaultStopLoss >= 1 || c.DefaultTakeProfit < 0 {
		return fmt.Errorf("risk: invalid default stop loss / take profit")
	}
	return nil
}

// Exposure is the slice of an open position the metrics are derived from.
type Exposure struct {
	Quantity   float64
	EntryPrice float64
	PnL        float64
}

// Metrics is derived from the open positions on demand.
type Metrics struct {
	CurrentDrawdownPct float64 `json:"current_drawdown_pct"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	TotalEquity        float64 `json:"total_equity"`
	TotalExposure      float64 `json:"total_exposure"`
	ExposurePct        float64 `json:"exposure_pct"`
	OpenPositions      int     `json:"open_positions"`
	LimitLevel         string  `json:"limit_level"`
}

// Stats are cumulative gate counters.
type Stats struct {
	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
	WarningsTotal   uint64 `json:"warnings_total"`
}

// LimitError is returned when the drawdown gate rejects a new position.
type LimitError struct {
	CurrentDrawdownPct float64
	MaxDrawdownPct     float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: drawdown %.2f%% >= max %.2f%%", common.ErrRiskLimitExceeded, e.CurrentDrawdownPct, e.MaxDrawdownPct)
}

func (e *LimitError) Is(target error) bool { return target == common.ErrRiskLimitExceeded }
