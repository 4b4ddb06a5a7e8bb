package common

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that unwinds s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// EntrySide is the order side that opens a position in this direction.
func (p PositionSide) EntrySide() Side {
	if p == PositionShort {
		return SideSell
	}
	return SideBuy
}

// PositionSideFor maps an order side to the position it opens.
func PositionSideFor(s Side) PositionSide {
	if s == SideSell {
		return PositionShort
	}
	return PositionLong
}

// OrderType denotes the supported order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes venue order states into a small set.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "OPEN"
	StatusPending  OrderStatus = "PENDING"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Credential is the API key material for one venue account.
type Credential struct {
	Key     string
	Secret  string
	BaseURL string
}

// Validate checks the credential shape before any signing happens.
func (c Credential) Validate() error {
	if strings.TrimSpace(c.Key) == "" || strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("%w: api key and secret are required", ErrInvalidCredentialFormat)
	}
	if strings.ContainsAny(c.Key, " \t\r\n") || strings.ContainsAny(c.Secret, " \t\r\n") {
		return fmt.Errorf("%w: api key or secret contains whitespace", ErrInvalidCredentialFormat)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base url %q is not an absolute http(s) url", ErrInvalidCredentialFormat, c.BaseURL)
	}
	return nil
}

// KeyHint returns a short, log-safe prefix of the API key.
func (c Credential) KeyHint() string {
	if len(c.Key) <= 4 {
		return "****"
	}
	return c.Key[:4] + "****"
}

// OrderRequest captures an order intent to be sent to the venue.
type OrderRequest struct {
	ProductID  int64
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        float64
	LimitPrice float64 // required for LIMIT
	StopPrice  float64 // optional stop trigger
	StopLoss   float64 // carried on the resulting position
	TakeProfit float64 // carried on the resulting position
	ReduceOnly bool
	ClientID   string
	Strategy   string
}

// Validate rejects malformed intents before they reach the network.
func (r OrderRequest) Validate() error {
	if r.ProductID <= 0 && r.Symbol == "" {
		return fmt.Errorf("order: product id or symbol required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("order: invalid side %q", r.Side)
	}
	if r.Qty <= 0 {
		return fmt.Errorf("order: quantity must be positive")
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return fmt.Errorf("order: limit price required for LIMIT")
		}
	default:
		return fmt.Errorf("order: invalid type %q", r.Type)
	}
	return nil
}

// OrderResult is the venue acknowledgement of a placed order.
type OrderResult struct {
	OrderID      string
	ClientID     string
	Status       OrderStatus
	AvgFillPrice float64
	LimitPrice   float64
	FilledQty    float64
}

// PositionSnapshot is one row of the venue's authoritative position list.
type PositionSnapshot struct {
	ID            string
	ProductID     int64
	Symbol        string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// Listing is a list read that may have degraded to an empty result.
type Listing[T any] struct {
	Items    []T
	Degraded bool
}

// Balance is one wallet asset.
type Balance struct {
	Asset     string  `json:"asset"`
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
}

// Product is read-only market metadata.
type Product struct {
	ID           int64   `json:"id"`
	Symbol       string  `json:"symbol"`
	ContractType string  `json:"contract_type"`
	TickSize     float64 `json:"tick_size"`
	State        string  `json:"state"`
}

// ClockOffset describes the current venue clock correction.
type ClockOffset struct {
	OffsetSeconds    int64     `json:"offset_seconds"`
	LastSyncedAt     time.Time `json:"last_synced_at"`
	LastDetectedSkew int64     `json:"last_detected_skew"`
	Source           string    `json:"source"`
}
