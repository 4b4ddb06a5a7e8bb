package events

import (
	"time"

	"trading-gateway/pkg/exchanges/common"
)

// Event enumerates gateway topics.
type Event string

const (
	EventTradeExecuted     Event = "trade.executed"
	EventTradeFailed       Event = "trade.failed"
	EventPositionClosed    Event = "position.closed"
	EventStrategyStarted   Event = "strategy.started"
	EventStrategyStopped   Event = "strategy.stopped"
	EventSessionChanged    Event = "session.changed"
	EventRiskAlert         Event = "risk.alert"
	EventKillSwitchEngaged Event = "killswitch.engaged"

	// EventAll subscribes to every topic.
	EventAll Event = "*"
)

// Topics lists every concrete topic.
var Topics = []Event{
	EventTradeExecuted,
	EventTradeFailed,
	EventPositionClosed,
	EventStrategyStarted,
	EventStrategyStopped,
	EventSessionChanged,
	EventRiskAlert,
	EventKillSwitchEngaged,
}

// Envelope wraps every published payload.
type Envelope struct {
	ID      string    `json:"id"`
	Topic   Event     `json:"topic"`
	At      time.Time `json:"at"`
	Account string    `json:"account,omitempty"`
	Payload any       `json:"payload"`
}

// TradeExecuted reports an accepted order.
type TradeExecuted struct {
	PositionID string             `json:"position_id"`
	OrderID    string             `json:"order_id"`
	Symbol     string             `json:"symbol"`
	Side       common.Side        `json:"side"`
	Type       common.OrderType   `json:"type"`
	Qty        float64            `json:"qty"`
	Price      float64            `json:"price"`
	Closing    bool               `json:"closing"`
	Strategy   string             `json:"strategy,omitempty"`
	Status     common.OrderStatus `json:"status"`
}

// TradeFailed reports a rejected or failed order with its error kind.
type TradeFailed struct {
	PositionID string      `json:"position_id,omitempty"`
	Symbol     string      `json:"symbol"`
	Side       common.Side `json:"side"`
	Qty        float64     `json:"qty"`
	Closing    bool        `json:"closing"`
	Kind       common.Kind `json:"kind"`
	Error      string      `json:"error"`
}

// PositionClosed reports a confirmed close.
type PositionClosed struct {
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	PnL        float64 `json:"pnl"`
	OrderID    string  `json:"order_id"`
}

// StrategyStarted reports a session that reached Active.
type StrategyStarted struct {
	VerifiedIn string `json:"verified_in"`
}

// StrategyStopped reports a session leaving Active or Verifying.
type StrategyStopped struct {
	Reason string      `json:"reason"`
	Kind   common.Kind `json:"kind,omitempty"`
}

// SessionChanged reports every state transition.
type SessionChanged struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// RiskAlert reports drawdown nearing or reaching the limit.
type RiskAlert struct {
	Level              string  `json:"level"`
	CurrentDrawdownPct float64 `json:"current_drawdown_pct"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	Message            string  `json:"message"`
}

// KillSwitchEngaged reports a kill switch outcome.
type KillSwitchEngaged struct {
	Mode     string   `json:"mode"`
	Closed   []string `json:"closed"`
	Failed   []string `json:"failed"`
	Duration string   `json:"duration"`
}
