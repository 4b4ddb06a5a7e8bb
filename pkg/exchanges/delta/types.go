package delta

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"trading-gateway/pkg/exchanges/common"
)

type orderBody struct {
	ProductID     int64  `json:"product_id,omitempty"`
	ProductSymbol string `json:"product_symbol,omitempty"`
	Size          string `json:"size"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type cancelBody struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
}

type orderDTO struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	ProductSymbol    string          `json:"product_symbol"`
	Size             decimal.Decimal `json:"size"`
	UnfilledSize     decimal.Decimal `json:"unfilled_size"`
	Side             string          `json:"side"`
	State            string          `json:"state"`
	LimitPrice       decimal.Decimal `json:"limit_price"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price"`
	ClientOrderID    string          `json:"client_order_id"`
}

type positionDTO struct {
	ID            flexID          `json:"id"`
	ProductID     int64           `json:"product_id"`
	ProductSymbol string          `json:"product_symbol"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

type balanceDTO struct {
	AssetSymbol      string          `json:"asset_symbol"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

type productDTO struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	ContractType string          `json:"contract_type"`
	TickSize     decimal.Decimal `json:"tick_size"`
	State        string          `json:"state"`
}

type tickerDTO struct {
	Symbol    string          `json:"symbol"`
	ProductID int64           `json:"product_id"`
	MarkPrice decimal.Decimal `json:"mark_price"`
	Close     decimal.Decimal `json:"close"`
}

type settingsDTO struct {
	ServerTime decimal.Decimal `json:"server_time"`
}

func newOrderBody(req common.OrderRequest) orderBody {
	b := orderBody{
		ProductID:     req.ProductID,
		Size:          formatFloat(req.Qty),
		Side:          strings.ToLower(string(req.Side)),
		OrderType:     "market_order",
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientID,
	}
	if req.ProductID <= 0 {
		b.ProductSymbol = req.Symbol
	}
	if req.Type == common.OrderTypeLimit {
		b.OrderType = "limit_order"
		b.LimitPrice = formatFloat(req.LimitPrice)
	}
	if req.StopPrice > 0 {
		b.StopPrice = formatFloat(req.StopPrice)
	}
	return b
}

func (o orderDTO) toResult() common.OrderResult {
	filled := o.Size.Sub(o.UnfilledSize)
	return common.OrderResult{
		OrderID:      strconv.FormatInt(o.ID, 10),
		ClientID:     o.ClientOrderID,
		Status:       mapState(o.State),
		AvgFillPrice: o.AverageFillPrice.InexactFloat64(),
		LimitPrice:   o.LimitPrice.InexactFloat64(),
		FilledQty:    filled.InexactFloat64(),
	}
}

func (p positionDTO) toSnapshot() common.PositionSnapshot {
	return common.PositionSnapshot{
		ID:            string(p.ID),
		ProductID:     p.ProductID,
		Symbol:        p.ProductSymbol,
		Size:          p.Size.InexactFloat64(),
		EntryPrice:    p.EntryPrice.InexactFloat64(),
		MarkPrice:     p.MarkPrice.InexactFloat64(),
		UnrealizedPnL: p.UnrealizedPnL.InexactFloat64(),
	}
}

func (b balanceDTO) toBalance() common.Balance {
	return common.Balance{
		Asset:     b.AssetSymbol,
		Balance:   b.Balance.InexactFloat64(),
		Available: b.AvailableBalance.InexactFloat64(),
	}
}

func (p productDTO) toProduct() common.Product {
	return common.Product{
		ID:           p.ID,
		Symbol:       p.Symbol,
		ContractType: p.ContractType,
		TickSize:     p.TickSize.InexactFloat64(),
		State:        p.State,
	}
}

func mapState(s string) common.OrderStatus {
	switch strings.ToLower(s) {
	case "open":
		return common.StatusOpen
	case "pending":
		return common.StatusPending
	case "closed", "filled":
		return common.StatusFilled
	case "cancelled", "canceled":
		return common.StatusCanceled
	case "rejected":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}
