// Package position implements the trailing-ratchet position model (C1).
//
// PositionState is pure domain logic with no I/O: it tracks the entry fill,
// the running high-water mark since entry, and the current stop levels, and
// enforces that the stop trigger only ever moves up (never down) for the
// life of a position.
package position

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// State tracks an active position and its trailing stop.
//
// Invariants:
//   - HighestPriceSinceEntry >= EntryPrice
//   - CurrentStopTrigger is non-decreasing once set (ratchet-only)
//   - CurrentStopLimit <= CurrentStopTrigger whenever both are set
type State struct {
	EntryPrice             decimal.Decimal
	QtyFilled              decimal.Decimal
	HighestPriceSinceEntry decimal.Decimal
	CurrentStopTrigger     *decimal.Decimal
	CurrentStopLimit       *decimal.Decimal
	StopOrderID            string    // empty means no live stop order
	StopPlacedAt           time.Time // when StopOrderID was last (re)placed; zero if no live stop
}

// wireState is the on-disk/over-the-wire shape: every decimal is a string,
// matching spec.md §6 ("decimals encoded as strings" for precise round-trip).
type wireState struct {
	EntryPrice             string  `json:"entry_price"`
	QtyFilled              string  `json:"qty_filled"`
	HighestPriceSinceEntry string  `json:"highest_price_since_entry"`
	CurrentStopTrigger     *string `json:"current_stop_trigger"`
	CurrentStopLimit       *string `json:"current_stop_limit"`
	StopOrderID            *string `json:"stop_order_id"`
	StopPlacedAt           *string `json:"stop_placed_at"`
}

// MarshalJSON is the single canonical serializer for State (the original
// carried two duplicate to_dict/from_dict pairs from a merge artefact;
// this implementation keeps exactly one).
func (s State) MarshalJSON() ([]byte, error) {
	w := wireState{
		EntryPrice:             s.EntryPrice.String(),
		QtyFilled:              s.QtyFilled.String(),
		HighestPriceSinceEntry: s.HighestPriceSinceEntry.String(),
	}
	if s.CurrentStopTrigger != nil {
		v := s.CurrentStopTrigger.String()
		w.CurrentStopTrigger = &v
	}
	if s.CurrentStopLimit != nil {
		v := s.CurrentStopLimit.String()
		w.CurrentStopLimit = &v
	}
	if s.StopOrderID != "" {
		v := s.StopOrderID
		w.StopOrderID = &v
	}
	if !s.StopPlacedAt.IsZero() {
		v := s.StopPlacedAt.UTC().Format(time.RFC3339Nano)
		w.StopPlacedAt = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	entry, err := decimal.NewFromString(w.EntryPrice)
	if err != nil {
		return err
	}
	qty, err := decimal.NewFromString(w.QtyFilled)
	if err != nil {
		return err
	}
	high, err := decimal.NewFromString(w.HighestPriceSinceEntry)
	if err != nil {
		return err
	}
	s.EntryPrice = entry
	s.QtyFilled = qty
	s.HighestPriceSinceEntry = high
	s.CurrentStopTrigger = nil
	s.CurrentStopLimit = nil
	if w.CurrentStopTrigger != nil {
		v, err := decimal.NewFromString(*w.CurrentStopTrigger)
		if err != nil {
			return err
		}
		s.CurrentStopTrigger = &v
	}
	if w.CurrentStopLimit != nil {
		v, err := decimal.NewFromString(*w.CurrentStopLimit)
		if err != nil {
			return err
		}
		s.CurrentStopLimit = &v
	}
	if w.StopOrderID != nil {
		s.StopOrderID = *w.StopOrderID
	} else {
		s.StopOrderID = ""
	}
	s.StopPlacedAt = time.Time{}
	if w.StopPlacedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *w.StopPlacedAt)
		if err != nil {
			return err
		}
		s.StopPlacedAt = t
	}
	return nil
}

var one = decimal.NewFromInt(1)

// ComputeNewStop derives (trigger, limit) from the current high-water mark.
//
//	trigger = highest * (1 - trailPct)
//	limit   = trigger * (1 - stopLimitBufferPct)
func (s *State) ComputeNewStop(trailPct, stopLimitBufferPct decimal.Decimal) (trigger, limit decimal.Decimal) {
	trigger = s.HighestPriceSinceEntry.Mul(one.Sub(trailPct))
	limit = trigger.Mul(one.Sub(stopLimitBufferPct))
	return trigger, limit
}

// RatchetStop advances the high-water mark and, if warranted, the stop.
//
// Returns true when the caller must (re)place a stop order: either no stop
// existed yet, or the new trigger clears the current trigger by more than
// minRatchet. The stop trigger never moves down (I1); trivial improvements
// below minRatchet are suppressed to avoid venue round-trip churn.
func (s *State) RatchetStop(lastTrade, trailPct, stopLimitBufferPct, minRatchet decimal.Decimal) bool {
	if lastTrade.GreaterThan(s.HighestPriceSinceEntry) {
		s.HighestPriceSinceEntry = lastTrade
	}

	newTrigger, newLimit := s.ComputeNewStop(trailPct, stopLimitBufferPct)

	if s.CurrentStopTrigger == nil {
		s.CurrentStopTrigger = &newTrigger
		s.CurrentStopLimit = &newLimit
		return true
	}

	if newTrigger.LessThanOrEqual(*s.CurrentStopTrigger) {
		return false
	}

	threshold := s.CurrentStopTrigger.Mul(one.Add(minRatchet))
	if newTrigger.GreaterThan(threshold) {
		s.CurrentStopTrigger = &newTrigger
		s.CurrentStopLimit = &newLimit
		return true
	}

	return false
}
