// Package gatewaytest provides an in-process fake venue for tests.
package gatewaytest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Venue is a minimal REST venue: balances, orders, positions, settings and
// products. Every order fills at FillPrice.
type Venue struct {
	*httptest.Server

	mu        sync.Mutex
	rejectKey bool
	positions string
	fillPrice string
	failOrder bool
	orders    []string

	nextID atomic.Int64
}

// NewVenue starts a fake venue closed on test cleanup.
func NewVenue(t testing.TB) *Venue {
	v := &Venue{positions: "[]", fillPrice: "100"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/settings", func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, fmt.Sprintf(`{"success":true,"result":{"server_time":%d}}`, time.Now().Unix()))
	})
	mux.HandleFunc("GET /v2/wallet/balances", func(w http.ResponseWriter, _ *http.Request) {
		v.mu.Lock()
		reject := v.rejectKey
		v.mu.Unlock()
		if reject {
			write(w, http.StatusUnauthorized, `{"success":false,"error":{"code":"invalid_api_key"}}`)
			return
		}
		write(w, http.StatusOK, `{"success":true,"result":[{"asset_symbol":"USDT","balance":"1000","available_balance":"900"}]}`)
	})
	mux.HandleFunc("GET /v2/positions/margined", func(w http.ResponseWriter, _ *http.Request) {
		v.mu.Lock()
		body := v.positions
		v.mu.Unlock()
		write(w, http.StatusOK, `{"success":true,"result":`+body+`}`)
	})
	mux.HandleFunc("GET /v2/products", func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, `{"success":true,"result":[{"id":27,"symbol":"BTCUSD","contract_type":"perpetual_futures","tick_size":"0.5","state":"live"}]}`)
	})
	mux.HandleFunc("GET /v2/tickers/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		price := v.fillPrice
		v.mu.Unlock()
		write(w, http.StatusOK, fmt.Sprintf(`{"success":true,"result":{"symbol":%q,"mark_price":"%s"}}`, r.PathValue("symbol"), price))
	})
	mux.HandleFunc("POST /v2/orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		v.mu.Lock()
		v.orders = append(v.orders, string(body))
		fail, price := v.failOrder, v.fillPrice
		v.mu.Unlock()
		if fail {
			write(w, http.StatusBadRequest, `{"success":false,"error":{"code":"insufficient_margin"}}`)
			return
		}
		id := v.nextID.Add(1)
		write(w, http.StatusOK, fmt.Sprintf(`{"success":true,"result":{"id":%d,"product_id":27,"size":1,"unfilled_size":0,"state":"closed","average_fill_price":"%s"}}`, id, price))
	})
	v.Server = httptest.NewServer(mux)
	t.Cleanup(v.Close)
	return v
}

// RejectKey makes balance reads fail with invalid_api_key.
func (v *Venue) RejectKey(reject bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectKey = reject
}

// SetPositions sets the JSON array served for margined positions.
func (v *Venue) SetPositions(rows string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions = rows
}

// FailOrders makes order placement fail with a venue error.
func (v *Venue) FailOrders(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failOrder = fail
}

// SetPrice sets the fill and mark price.
func (v *Venue) SetPrice(price string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fillPrice = price
}

// Orders returns the raw order bodies received so far.
func (v *Venue) Orders() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.orders...)
}

func write(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
