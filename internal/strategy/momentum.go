package strategy

import (
	"context"
	"fmt"
)

// Momentum emits BUY when the mark price jumps up by threshold since the
// previous reading and SELL when it drops by threshold.
type Momentum struct {
	feed      PriceFeed
	symbol    string
	productID int64
	size      float64
	threshold float64
	lastPrice float64
}

// NewMomentum creates a momentum source. threshold is a fraction (0.001 = 0.1%).
func NewMomentum(feed PriceFeed, symbol string, productID int64, size, threshold float64) *Momentum {
	if threshold <= 0 {
		threshold = 0.001
	}
	return &Momentum{feed: feed, symbol: symbol, productID: productID, size: size, threshold: threshold}
}

func (m *Momentum) Name() string { return "momentum_" + m.symbol }

// Next implements SignalSource.
func (m *Momentum) Next(ctx context.Context) (Signal, error) {
	price, err := m.feed.MarkPrice(ctx, m.symbol)
	if err != nil {
		return Signal{}, err
	}
	return m.onPrice(price), nil
}

func (m *Momentum) onPrice(price float64) Signal {
	neutral := Signal{Action: ActionNeutral, Symbol: m.symbol}
	if price <= 0 {
		return neutral
	}
	if m.lastPrice == 0 {
		m.lastPrice = price
		return neutral
	}
	change := (price - m.lastPrice) / m.lastPrice
	m.lastPrice = price

	switch {
	case change >= m.threshold:
		return m.signal(ActionBuy, fmt.Sprintf("momentum +%.4f%%", change*100))
	case change <= -m.threshold:
		return m.signal(ActionSell, fmt.Sprintf("momentum %.4f%%", change*100))
	default:
		return neutral
	}
}

func (m *Momentum) signal(a Action, note string) Signal {
	return Signal{Action: a, ProductID: m.productID, Symbol: m.symbol, Size: m.size, Note: note}
}
