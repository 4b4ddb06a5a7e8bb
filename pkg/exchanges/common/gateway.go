package common

import "context"

// Venue is the order and position surface the ledger trades through.
type Venue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Positions(ctx context.Context) (Listing[PositionSnapshot], error)
}

// ServerClock fetches the venue's current time.
type ServerClock interface {
	ServerTime(ctx context.Context) (int64, error)
}

// SessionGate reports whether trading calls may start.
type SessionGate interface {
	Require() error
}
