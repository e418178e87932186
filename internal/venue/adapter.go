// Package venue implements the venue adapter contract (C3): request
// signing, order placement/cancel/status, and 429/backoff handling.
//
// Adapter is the dynamic-dispatch surface the execution engine programs
// against (spec.md §9 "Dynamic dispatch over a venue backend"); Client is
// the real HTTP implementation and InMemoryAdapter is a test double, both
// satisfying the same interface.
package venue

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderStatus is the venue's reported state for an order (spec.md §4.5
// reconciliation reads this to decide whether a stop is still live).
type OrderStatus struct {
	OrderID string
	State   string // "open", "pending", "filled", "cancelled", "triggered", ...
}

// Adapter is the minimal surface the execution engine needs from a venue.
// All price/qty values use decimal.Decimal for exact arithmetic.
type Adapter interface {
	// PlaceLimitBuy places a GTC limit buy and returns the venue order ID.
	PlaceLimitBuy(ctx context.Context, clientID string, price, qty decimal.Decimal) (orderID string, err error)
	// PlaceStopLimit places a GTC stop-limit sell and returns the venue order ID.
	PlaceStopLimit(ctx context.Context, clientID string, trigger, limit, qty decimal.Decimal) (orderID string, err error)
	// CancelOrder cancels an order; returns false on any venue-reported
	// failure rather than erroring (idempotent from the engine's point of
	// view, spec.md §4.3).
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	// GetOrderStatus returns nil, nil if the order is unknown to the venue.
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
}
