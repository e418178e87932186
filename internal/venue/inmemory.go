package venue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InMemoryAdapter is a test double satisfying Adapter, grounded in
// original_source/trading/execution.py's InMemoryAdapter: every placed
// order is tracked in a map and reported back verbatim on status lookups,
// with no simulated fills (fills are injected by tests directly through
// Fill).
type InMemoryAdapter struct {
	mu        sync.Mutex
	orders    map[string]*OrderStatus
	cancelled map[string]bool

	// PlaceErr, when non-nil, is returned by the next Place* call instead
	// of succeeding; cleared after use. Lets tests exercise venue-error
	// handling without a real server.
	PlaceErr error
}

// NewInMemoryAdapter constructs an empty adapter.
func NewInMemoryAdapter() *InMemoryAdapter {
	return &InMemoryAdapter{
		orders:    make(map[string]*OrderStatus),
		cancelled: make(map[string]bool),
	}
}

func (a *InMemoryAdapter) place(clientID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.PlaceErr != nil {
		err := a.PlaceErr
		a.PlaceErr = nil
		return "", err
	}
	id := clientID
	if id == "" {
		id = uuid.New().String()
	}
	a.orders[id] = &OrderStatus{OrderID: id, State: "open"}
	return id, nil
}

// PlaceLimitBuy implements Adapter.
func (a *InMemoryAdapter) PlaceLimitBuy(_ context.Context, clientID string, _, _ decimal.Decimal) (string, error) {
	return a.place(clientID)
}

// PlaceStopLimit implements Adapter.
func (a *InMemoryAdapter) PlaceStopLimit(_ context.Context, clientID string, _, _, _ decimal.Decimal) (string, error) {
	return a.place(clientID)
}

// CancelOrder implements Adapter.
func (a *InMemoryAdapter) CancelOrder(_ context.Context, orderID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	os, ok := a.orders[orderID]
	if !ok {
		return false, nil
	}
	os.State = "cancelled"
	a.cancelled[orderID] = true
	return true, nil
}

// GetOrderStatus implements Adapter.
func (a *InMemoryAdapter) GetOrderStatus(_ context.Context, orderID string) (*OrderStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	os, ok := a.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *os
	return &cp, nil
}

// Fill marks an order as filled, simulating a venue-side execution so that
// tests can exercise reconciliation and fill-handling paths.
func (a *InMemoryAdapter) Fill(orderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if os, ok := a.orders[orderID]; ok {
		os.State = "filled"
	}
}

// SetState forces an order's reported state, for reconciliation tests that
// need to simulate a stop the venue no longer recognizes (e.g. "cancelled"
// behind the engine's back).
func (a *InMemoryAdapter) SetState(orderID, state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if os, ok := a.orders[orderID]; ok {
		os.State = state
		return
	}
	a.orders[orderID] = &OrderStatus{OrderID: orderID, State: state}
}
