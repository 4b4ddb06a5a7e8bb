package strategy

import (
	"context"
	"fmt"
)

// MACross emits BUY on a golden cross (fast SMA crosses above slow) and
// SELL on a death cross. A repeat of the previous action is suppressed.
type MACross struct {
	feed       PriceFeed
	symbol     string
	productID  int64
	fastPeriod int
	slowPeriod int
	size       float64

	fastMA float64
	slowMA float64
	prices []float64
	prev   Action
}

// NewMACross creates a crossover source.
func NewMACross(feed PriceFeed, symbol string, productID int64, fastPeriod, slowPeriod int, size float64) (*MACross, error) {
	if fastPeriod <= 0 || slowPeriod <= fastPeriod {
		return nil, fmt.Errorf("ma_cross: need 0 < fast < slow, got %d/%d", fastPeriod, slowPeriod)
	}
	return &MACross{
		feed:       feed,
		symbol:     symbol,
		productID:  productID,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		size:       size,
		prices:     make([]float64, 0, slowPeriod),
		prev:       ActionNeutral,
	}, nil
}

func (s *MACross) Name() string {
	return fmt.Sprintf("ma_cross_%d_%d_%s", s.fastPeriod, s.slowPeriod, s.symbol)
}

// Next implements SignalSource.
func (s *MACross) Next(ctx context.Context) (Signal, error) {
	price, err := s.feed.MarkPrice(ctx, s.symbol)
	if err != nil {
		return Signal{}, err
	}
	return s.onPrice(price), nil
}

func (s *MACross) onPrice(price float64) Signal {
	neutral := Signal{Action: ActionNeutral, Symbol: s.symbol}

	s.prices = append(s.prices, price)
	if len(s.prices) > s.slowPeriod {
		s.prices = s.prices[1:]
	}
	if len(s.prices) < s.slowPeriod {
		return neutral
	}

	oldFast, oldSlow := s.fastMA, s.slowMA
	s.fastMA = sma(s.prices, s.fastPeriod)
	s.slowMA = sma(s.prices, s.slowPeriod)
	if oldSlow == 0 {
		// First full window only seeds the averages.
		return neutral
	}

	var action Action
	switch {
	case oldFast <= oldSlow && s.fastMA > s.slowMA:
		action = ActionBuy
	case oldFast >= oldSlow && s.fastMA < s.slowMA:
		action = ActionSell
	default:
		return neutral
	}
	if action == s.prev {
		return neutral
	}
	s.prev = action
	return Signal{
		Action:    action,
		ProductID: s.productID,
		Symbol:    s.symbol,
		Size:      s.size,
		Note:      fmt.Sprintf("MA%d(%.2f) vs MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA),
	}
}

// sma is the simple moving average of the last period values.
func sma(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
