package risk

import "trading-gateway/pkg/exchanges/common"

// Protection levels for a position.
type Protection struct {
	StopLoss   float64
	TakeProfit float64
}

// Protect fills in missing stop-loss and take-profit levels from the
// configured defaults. Explicit levels are kept.
func Protect(cfg Config, side common.PositionSide, entry float64, explicit Protection) Protection {
	out := explicit
	if entry <= 0 {
		return out
	}
	if out.StopLoss <= 0 && cfg.DefaultStopLoss > 0 {
		if side == common.PositionShort {
			out.StopLoss = entry * (1 + cfg.DefaultStopLoss)
		} else {
			out.StopLoss = entry * (1 - cfg.DefaultStopLoss)
		}
	}
	if out.TakeProfit <= 0 && cfg.DefaultTakeProfit > 0 {
		if side == common.PositionShort {
			out.TakeProfit = entry * (1 - cfg.DefaultTakeProfit)
		} else {
			out.TakeProfit = entry * (1 + cfg.DefaultTakeProfit)
		}
	}
	return out
}

// Breach names the level a mark price has crossed, or "" if none.
func Breach(side common.PositionSide, mark float64, p Protection) string {
	if mark <= 0 {
		return ""
	}
	if side == common.PositionShort {
		switch {
		case p.StopLoss > 0 && mark >= p.StopLoss:
			return "stop_loss"
		case p.TakeProfit > 0 && mark <= p.TakeProfit:
			return "take_profit"
		}
		return ""
	}
	switch {
	case p.StopLoss > 0 && mark <= p.StopLoss:
		return "stop_loss"
	case p.TakeProfit > 0 && mark >= p.TakeProfit:
		return "take_profit"
	}
	return ""
}
