// Package strategy turns signals from a black-box source into gateway
// orders. It never bypasses the gateway's session or risk gates.
package strategy

import (
	"context"

	"trading-gateway/internal/state"
	"trading-gateway/pkg/exchanges/common"
)

// Action is a signal decision.
type Action string

const (
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionNeutral Action = "NEUTRAL"
)

// Signal is a decision emitted by a source.
type Signal struct {
	Action    Action  `json:"action"`
	ProductID int64   `json:"product_id,omitempty"`
	Symbol    string  `json:"symbol"`
	Size      float64 `json:"size"`
	Note      string  `json:"note,omitempty"`
}

// SignalSource produces the next decision. Neutral means do nothing.
type SignalSource interface {
	Name() string
	Next(ctx context.Context) (Signal, error)
}

// PriceFeed supplies mark prices to price-driven sources.
type PriceFeed interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// Trader opens positions; the gateway satisfies it.
type Trader interface {
	OpenPosition(ctx context.Context, req common.OrderRequest) (state.Position, error)
}
