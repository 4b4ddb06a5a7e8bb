package delta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"trading-gateway/pkg/exchanges/common"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://api.india.delta.exchange"

// Client is the typed venue surface on top of a Dispatcher.
type Client struct {
	d      *Dispatcher
	logger zerolog.Logger
}

// NewClient wraps d.
func NewClient(d *Dispatcher, logger zerolog.Logger) *Client {
	return &Client{d: d, logger: logger.With().Str("component", "delta").Logger()}
}

// Dispatcher exposes the underlying dispatcher.
func (c *Client) Dispatcher() *Dispatcher { return c.d }

// PlaceOrder submits an order. Reduce-only orders only unwind existing
// exposure and are not held back by the session gate.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return common.OrderResult{}, err
	}
	resp, err := c.d.Do(ctx, Call{
		Method:                http.MethodPost,
		Path:                  "/orders",
		Body:                  newOrderBody(req),
		RequiresActiveSession: !req.ReduceOnly,
	})
	if err != nil {
		return common.OrderResult{}, err
	}
	var dto orderDTO
	if err := resp.Decode(&dto); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	if dto.ID == 0 {
		return common.OrderResult{}, fmt.Errorf("delta: order response without id")
	}
	res := dto.toResult()
	c.logger.Info().
		Str("order_id", res.OrderID).
		Str("side", string(req.Side)).
		Float64("qty", req.Qty).
		Bool("reduce_only", req.ReduceOnly).
		Int("attempts", resp.Attempts).
		Msg("order placed")
	return res, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, productID int64, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("delta: invalid order id %q", orderID)
	}
	_, err = c.d.Do(ctx, Call{
		Method:                http.MethodDelete,
		Path:                  "/orders",
		Body:                  cancelBody{ID: id, ProductID: productID},
		RequiresActiveSession: true,
	})
	return err
}

// Positions returns the venue's open margined positions.
func (c *Client) Positions(ctx context.Context) (common.Listing[common.PositionSnapshot], error) {
	var rows []positionDTO
	degraded, err := c.list(ctx, Call{Path: "/positions/margined", RequiresActiveSession: true}, &rows)
	if err != nil {
		return common.Listing[common.PositionSnapshot]{}, err
	}
	out := common.Listing[common.PositionSnapshot]{Degraded: degraded, Items: make([]common.PositionSnapshot, 0, len(rows))}
	for _, r := range rows {
		out.Items = append(out.Items, r.toSnapshot())
	}
	return out, nil
}

// Balances returns wallet balances.
func (c *Client) Balances(ctx context.Context) (common.Listing[common.Balance], error) {
	return c.balances(ctx, Call{Path: "/wallet/balances", RequiresActiveSession: true})
}

// ProbeBalances fetches balances without the session gate and without the
// empty-result fallback. It is the session verification probe.
func (c *Client) ProbeBalances(ctx context.Context) ([]common.Balance, error) {
	l, err := c.balances(ctx, Call{Path: "/wallet/balances", Strict: true})
	return l.Items, err
}

func (c *Client) balances(ctx context.Context, call Call) (common.Listing[common.Balance], error) {
	var rows []balanceDTO
	degraded, err := c.list(ctx, call, &rows)
	if err != nil {
		return common.Listing[common.Balance]{}, err
	}
	out := common.Listing[common.Balance]{Degraded: degraded, Items: make([]common.Balance, 0, len(rows))}
	for _, r := range rows {
		out.Items = append(out.Items, r.toBalance())
	}
	return out, nil
}

// Products returns market metadata. It is a bootstrap read and runs outside
// the session gate.
func (c *Client) Products(ctx context.Context) (common.Listing[common.Product], error) {
	var rows []productDTO
	degraded, err := c.list(ctx, Call{Path: "/products"}, &rows)
	if err != nil {
		return common.Listing[common.Product]{}, err
	}
	out := common.Listing[common.Product]{Degraded: degraded, Items: make([]common.Product, 0, len(rows))}
	for _, r := range rows {
		out.Items = append(out.Items, r.toProduct())
	}
	return out, nil
}

// MarkPrice returns the ticker mark price for symbol, falling back to the
// last close. Tickers are public and unsigned.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.d.Do(ctx, Call{Path: "/tickers/" + url.PathEscape(symbol), Public: true})
	if err != nil {
		return 0, err
	}
	if resp.Degraded {
		return 0, resp.Cause
	}
	var t tickerDTO
	if err := resp.Decode(&t); err != nil {
		return 0, fmt.Errorf("decode ticker %s: %w", symbol, err)
	}
	price := t.MarkPrice
	if price.IsZero() {
		price = t.Close
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("delta: ticker %s has no price", symbol)
	}
	return price.InexactFloat64(), nil
}

// ServerTime returns the venue clock in unix seconds. It reads the
// settings endpoint and falls back to the response Date header.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	resp, err := c.d.Do(ctx, Call{Path: "/settings", Public: true, Strict: true})
	if err != nil {
		return 0, err
	}
	var s settingsDTO
	if err := resp.Decode(&s); err == nil {
		if ts := unixSeconds(s.ServerTime.IntPart()); ts > 0 {
			return ts, nil
		}
	}
	if t, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		return t.Unix(), nil
	}
	return 0, fmt.Errorf("delta: settings response carries no server time")
}

// Ping checks venue reachability.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ServerTime(ctx)
	return err
}

func (c *Client) list(ctx context.Context, call Call, into any) (bool, error) {
	resp, err := c.d.Do(ctx, call)
	if err != nil {
		return false, err
	}
	if resp.Degraded {
		return true, nil
	}
	if err := resp.Decode(into); err != nil {
		return false, fmt.Errorf("decode %s: %w", call.Path, err)
	}
	return false, nil
}
