// Package orderstate implements the order state machine (C2): it couples
// entry-order fills to a live position.State and emits stop-replacement
// intents as trade prices arrive.
package orderstate

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/tstopd/internal/position"
)

// Side is the side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Class distinguishes entry, stop, and forced-exit orders (spec.md §3).
type Class string

const (
	ClassEntry     Class = "entry"
	ClassStop      Class = "stop"
	ClassForceExit Class = "force_exit"
)

// Status is the order lifecycle state (spec.md §3/§4.2).
type Status string

const (
	StatusNew             Status = "new"
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusTriggered       Status = "triggered"
)

// ErrUnknownOrder is returned by OnFill for an order_id that isn't the
// current entry order (an invariant violation per spec.md §7).
var ErrUnknownOrder = errors.New("orderstate: unknown order_id")

// Order is a single venue-interaction record (spec.md §3).
type Order struct {
	OrderID    string
	PositionID string
	Class      Class
	Side       Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Filled     decimal.Decimal
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Machine tracks the current entry order and the resulting position.
//
// It is a pure state container: callers own persistence and venue calls.
type Machine struct {
	EntryOrder *Order
	Position   *position.State
}

// New returns an empty state machine.
func New() *Machine {
	return &Machine{}
}

// PlaceEntry records a new limit-buy entry order in the OPEN state (I4: at
// most one entry order outstanding at a time — callers must not call this
// again before the prior entry order reaches a terminal state).
func (m *Machine) PlaceEntry(orderID string, price, qty decimal.Decimal) *Order {
	now := time.Now().UTC()
	m.EntryOrder = &Order{
		OrderID:   orderID,
		Class:     ClassEntry,
		Side:      SideBuy,
		Price:     price,
		Qty:       qty,
		Filled:    decimal.Zero,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m.EntryOrder
}

// OnFill applies a fill to the current entry order, creating or updating the
// position. On the first fill, entry/high-water mark are seeded from the
// fill price. On subsequent fills, entry price becomes the quantity-weighted
// average (fees are not modeled).
func (m *Machine) OnFill(orderID string, filledQty, fillPrice decimal.Decimal) error {
	if m.EntryOrder == nil || m.EntryOrder.OrderID != orderID {
		return ErrUnknownOrder
	}

	m.EntryOrder.Filled = m.EntryOrder.Filled.Add(filledQty)
	m.EntryOrder.UpdatedAt = time.Now().UTC()
	if m.EntryOrder.Filled.LessThan(m.EntryOrder.Qty) {
		m.EntryOrder.Status = StatusPartiallyFilled
	} else {
		m.EntryOrder.Status = StatusFilled
	}

	if m.Position == nil {
		m.Position = &position.State{
			EntryPrice:             fillPrice,
			QtyFilled:              m.EntryOrder.Filled,
			HighestPriceSinceEntry: fillPrice,
		}
		return nil
	}

	prevQty := m.Position.QtyFilled
	totalQty := prevQty.Add(filledQty)
	weighted := m.Position.EntryPrice.Mul(prevQty).Add(fillPrice.Mul(filledQty))
	m.Position.EntryPrice = weighted.Div(totalQty)
	m.Position.QtyFilled = totalQty
	return nil
}

// OnTrade delegates to position.State.RatchetStop and reports whether the
// caller must replace the stop order, along with the new (trigger, limit)
// when it does.
func (m *Machine) OnTrade(lastTrade, trailPct, stopLimitBufferPct, minRatchet decimal.Decimal) (bool, *decimal.Decimal, *decimal.Decimal) {
	if m.Position == nil {
		return false, nil, nil
	}
	changed := m.Position.RatchetStop(lastTrade, trailPct, stopLimitBufferPct, minRatchet)
	if !changed {
		return false, nil, nil
	}
	return true, m.Position.CurrentStopTrigger, m.Position.CurrentStopLimit
}

// StopTimeoutReplacement computes a tighter replacement stop for a stop
// order that has sat open past the configured timeout without firing
// (thin-liquidity recovery, spec.md §4.2/§4.6). It never lowers the
// trigger below the existing one (ratchet-only, I1), and uses the
// configured stopLimitBufferPct rather than a hard-coded value — spec.md's
// Open Question on this resolves in favor of the configured buffer being
// authoritative.
func (m *Machine) StopTimeoutReplacement(aggressiveDelta, stopLimitBufferPct decimal.Decimal) (trigger, limit decimal.Decimal, err error) {
	if m.Position == nil {
		return decimal.Zero, decimal.Zero, errors.New("orderstate: no active position")
	}

	highest := m.Position.HighestPriceSinceEntry
	newTrigger := highest.Mul(decimal.NewFromInt(1).Sub(aggressiveDelta))

	if m.Position.CurrentStopTrigger != nil && newTrigger.LessThanOrEqual(*m.Position.CurrentStopTrigger) {
		newTrigger = *m.Position.CurrentStopTrigger
	}

	newLimit := newTrigger.Mul(decimal.NewFromInt(1).Sub(stopLimitBufferPct))

	existing := decimal.Zero
	if m.Position.CurrentStopTrigger != nil {
		existing = *m.Position.CurrentStopTrigger
	}
	if newTrigger.GreaterThan(existing) {
		m.Position.CurrentStopTrigger = &newTrigger
		m.Position.CurrentStopLimit = &newLimit
	}

	return newTrigger, newLimit, nil
}
