// Package execution implements the per-pair execution engine (C6): it
// wires an orderstate.Machine to a venue.Adapter and a persistent store,
// handling startup reconciliation, entry submission, fill handling,
// trade-driven ratcheting, and stop-timeout replacement.
//
// Grounded in original_source/trading/execution.py's ExecutionEngine,
// translated from its synchronous class to a Go struct with an explicit
// context.Context on every venue/store call and a per-position mutex
// (spec.md §5: positions are independent, no cross-position ordering).
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rs/zerolog"

	"github.com/chidi150c/tstopd/internal/metrics"
	"github.com/chidi150c/tstopd/internal/orderstate"
	"github.com/chidi150c/tstopd/internal/position"
	"github.com/chidi150c/tstopd/internal/store"
	"github.com/chidi150c/tstopd/internal/venue"
)

// Config holds the trailing-stop parameters for one engine instance
// (spec.md §6 "strategy" block).
type Config struct {
	PairID             string
	ProductID          string
	TrailPct           decimal.Decimal
	StopLimitBufferPct decimal.Decimal
	MinRatchet         decimal.Decimal
	AggressiveDelta    decimal.Decimal // used by HandleStopTimeout
	StopTimeout        time.Duration   // minimum stop age before HandleStopTimeout acts
}

// Engine is the per-pair execution engine. One Engine owns exactly one
// orderstate.Machine (hence at most one open position) and serializes all
// state transitions behind mu.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	adapter venue.Adapter
	store   *store.Store
	osm     *orderstate.Machine
	log     zerolog.Logger
}

// New constructs an Engine with an empty order-state machine. Call
// StartupReconcile immediately after, before accepting any trades.
func New(cfg Config, adapter venue.Adapter, st *store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		adapter: adapter,
		store:   st,
		osm:     orderstate.New(),
		log:     log.With().Str("pair", cfg.PairID).Logger(),
	}
}

func (e *Engine) positionID() string {
	return e.cfg.PairID
}

func (e *Engine) persist() error {
	if e.osm.Position == nil {
		return nil
	}
	data, err := json.Marshal(e.osm.Position)
	if err != nil {
		return fmt.Errorf("execution: marshal position: %w", err)
	}
	if e.osm.Position.StopOrderID != "" {
		metrics.OpenPositions.WithLabelValues(e.cfg.PairID).Set(1)
	}
	return e.store.SavePosition(e.positionID(), data)
}

// StartupReconcile restores any persisted position and verifies its stop
// order still exists at the venue, placing a replacement if it does not
// (spec.md §4.5). Safe to call on every process start, including a fresh
// one with no persisted state.
func (e *Engine) StartupReconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.store.LoadPosition(e.positionID())
	if err != nil {
		return fmt.Errorf("execution: load position: %w", err)
	}
	if raw == nil {
		metrics.ReconcileRuns.WithLabelValues("clean").Inc()
		return nil
	}

	var st position.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("execution: unmarshal persisted position: %w", err)
	}
	e.osm.Position = &st

	repaired := false
	if st.StopOrderID != "" {
		status, err := e.adapter.GetOrderStatus(ctx, st.StopOrderID)
		if err != nil {
			// spec.md §151/§269: startup reconcile tolerates every venue
			// failure here — log and leave the stop unconfirmed; the next
			// on_trade or periodic reconcile retries.
			e.log.Warn().Err(err).Str("stop_order_id", st.StopOrderID).
				Msg("reconcile get_order_status failed, deferring to next pass")
			status = nil
		} else if status != nil && status.State == "triggered" {
			// The stop fired while the process was down: the position is
			// closed, not merely missing a stop. Zero qty_filled and
			// record a force-exit order rather than placing a replacement.
			return e.closePositionOnTriggeredStop(ctx, st.StopOrderID)
		}
		if status == nil || (status.State != "open" && status.State != "pending") {
			e.osm.Position.StopOrderID = ""
			repaired = true
		}
	}

	if e.osm.Position.StopOrderID == "" &&
		e.osm.Position.CurrentStopTrigger != nil && e.osm.Position.CurrentStopLimit != nil {
		oid, err := e.adapter.PlaceStopLimit(ctx, "reconcile",
			*e.osm.Position.CurrentStopTrigger, *e.osm.Position.CurrentStopLimit, e.osm.Position.QtyFilled)
		if err != nil {
			return fmt.Errorf("execution: reconcile place_stop_limit: %w", err)
		}
		e.osm.Position.StopOrderID = oid
		e.osm.Position.StopPlacedAt = time.Now().UTC()
		metrics.StopOrdersPlaced.WithLabelValues(e.cfg.PairID, "reconcile").Inc()
		repaired = true
	}

	if repaired {
		if err := e.persist(); err != nil {
			return err
		}
		metrics.ReconcileRuns.WithLabelValues("repaired").Inc()
		e.log.Warn().Msg("reconciliation replaced a missing stop order")
	} else {
		metrics.ReconcileRuns.WithLabelValues("clean").Inc()
	}
	return nil
}

// closePositionOnTriggeredStop handles a stop reported as triggered during
// startup reconcile (spec.md §177/§296, S5): the position closed while the
// process was down, not merely missing a live stop. It zeroes qty_filled,
// records a force-exit order for history, and persists both. Must be
// called with mu held.
func (e *Engine) closePositionOnTriggeredStop(ctx context.Context, stopOrderID string) error {
	now := time.Now().UTC()
	exit := orderstate.Order{
		OrderID:    stopOrderID,
		PositionID: e.positionID(),
		Class:      orderstate.ClassForceExit,
		Side:       orderstate.SideSell,
		Price:      zeroIfNil(e.osm.Position.CurrentStopLimit),
		Qty:        e.osm.Position.QtyFilled,
		Filled:     e.osm.Position.QtyFilled,
		Status:     orderstate.StatusTriggered,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	data, err := json.Marshal(exit)
	if err != nil {
		return fmt.Errorf("execution: marshal force-exit order: %w", err)
	}
	if err := e.store.SaveOrder(stopOrderID, e.positionID(), data, string(orderstate.StatusTriggered)); err != nil {
		return fmt.Errorf("execution: save force-exit order: %w", err)
	}

	e.osm.Position.QtyFilled = decimal.Zero
	e.osm.Position.StopOrderID = ""
	e.osm.Position.StopPlacedAt = time.Time{}
	if err := e.persist(); err != nil {
		return err
	}
	metrics.OpenPositions.WithLabelValues(e.cfg.PairID).Set(0)
	metrics.ReconcileRuns.WithLabelValues("repaired").Inc()
	e.log.Warn().Str("stop_order_id", stopOrderID).Msg("reconciliation found a triggered stop, closed position")
	return nil
}

func zeroIfNil(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// SubmitEntry places a limit-buy entry order and records it on the state
// machine (I4: at most one outstanding entry order).
func (e *Engine) SubmitEntry(ctx context.Context, clientID string, price, qty decimal.Decimal) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	oid, err := e.adapter.PlaceLimitBuy(ctx, clientID, price, qty)
	if err != nil {
		return "", fmt.Errorf("execution: place_limit_buy: %w", err)
	}
	e.osm.PlaceEntry(oid, price, qty)
	metrics.EntryOrdersPlaced.WithLabelValues(e.cfg.PairID).Inc()
	e.log.Info().Str("order_id", oid).Str("price", price.String()).Str("qty", qty.String()).Msg("entry order placed")
	return oid, nil
}

// HandleFill applies a fill to the entry order, seeds the initial stop if
// this is the position's first fill, and persists the result.
func (e *Engine) HandleFill(ctx context.Context, orderID string, filledQty, fillPrice decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.osm.OnFill(orderID, filledQty, fillPrice); err != nil {
		return fmt.Errorf("execution: on_fill: %w", err)
	}
	e.log.Info().Str("order_id", orderID).Str("filled_qty", filledQty.String()).Str("fill_price", fillPrice.String()).Msg("order filled")

	if e.osm.Position == nil {
		return nil
	}

	e.osm.Position.RatchetStop(fillPrice, e.cfg.TrailPct, e.cfg.StopLimitBufferPct, e.cfg.MinRatchet)
	if err := e.persist(); err != nil {
		return err
	}

	if e.osm.Position.CurrentStopTrigger != nil && e.osm.Position.StopOrderID == "" {
		oid, err := e.adapter.PlaceStopLimit(ctx, orderID,
			*e.osm.Position.CurrentStopTrigger, *e.osm.Position.CurrentStopLimit, e.osm.Position.QtyFilled)
		if err != nil {
			return fmt.Errorf("execution: place initial stop: %w", err)
		}
		e.osm.Position.StopOrderID = oid
		e.osm.Position.StopPlacedAt = time.Now().UTC()
		metrics.StopOrdersPlaced.WithLabelValues(e.cfg.PairID, "initial").Inc()
		e.log.Info().Str("stop_order_id", oid).
			Str("trigger", e.osm.Position.CurrentStopTrigger.String()).
			Str("limit", e.osm.Position.CurrentStopLimit.String()).
			Msg("stop order placed")
		return e.persist()
	}
	return nil
}

// OnTrade feeds a new last-trade price into the ratchet logic and, if the
// stop moved, cancels the old stop order and places a replacement.
func (e *Engine) OnTrade(ctx context.Context, lastTrade decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onTradeLocked(ctx, lastTrade)
}

func (e *Engine) onTradeLocked(ctx context.Context, lastTrade decimal.Decimal) error {
	changed, trigger, limit := e.osm.OnTrade(lastTrade, e.cfg.TrailPct, e.cfg.StopLimitBufferPct, e.cfg.MinRatchet)
	if !changed {
		return nil
	}
	e.log.Info().Str("last_trade_price", lastTrade.String()).
		Str("new_trigger", trigger.String()).Str("new_limit", limit.String()).Msg("stop ratcheted")
	metrics.StopRatchets.WithLabelValues(e.cfg.PairID).Inc()
	return e.replaceStop(ctx, *trigger, *limit, "ratchet")
}

// HandleStopTimeout replaces a stop order that has sat open past the
// configured timeout with a tighter one, using AggressiveDelta. It is a
// no-op if there is no live stop, or the live stop has not yet been open
// longer than cfg.StopTimeout (spec.md §209: the watchdog polls on its own
// cadence, distinct from stop_timeout, and must only act on stops whose
// age actually exceeds it).
func (e *Engine) HandleStopTimeout(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.osm.Position == nil || e.osm.Position.StopOrderID == "" {
		return nil
	}
	if e.cfg.StopTimeout > 0 && time.Since(e.osm.Position.StopPlacedAt) <= e.cfg.StopTimeout {
		return nil
	}
	oldTrigger := e.osm.Position.CurrentStopTrigger
	trigger, limit, err := e.osm.StopTimeoutReplacement(e.cfg.AggressiveDelta, e.cfg.StopLimitBufferPct)
	if err != nil {
		return fmt.Errorf("execution: stop_timeout_replacement: %w", err)
	}
	e.log.Warn().
		Interface("old_trigger", oldTrigger).
		Str("new_trigger", trigger.String()).
		Msg("stop timeout detected")
	return e.replaceStop(ctx, trigger, limit, "timeout")
}

// replaceStop cancels the current stop (if any) and places a new one at
// (trigger, limit), persisting the new stop_order_id. Must be called with
// mu held.
func (e *Engine) replaceStop(ctx context.Context, trigger, limit decimal.Decimal, reason string) error {
	oldOID := e.osm.Position.StopOrderID
	if oldOID != "" {
		// spec.md §150: cancel-and-replace is best effort. A cancel
		// failure is logged, not fatal — the new stop is placed regardless
		// and both may briefly coexist; reconciliation cleans up.
		if _, err := e.adapter.CancelOrder(ctx, oldOID); err != nil {
			e.log.Warn().Err(err).Str("stop_order_id", oldOID).Msg("cancel old stop failed, placing replacement anyway")
		}
	}
	clientID := oldOID
	if clientID == "" {
		clientID = "stop"
	}
	newOID, err := e.adapter.PlaceStopLimit(ctx, clientID, trigger, limit, e.osm.Position.QtyFilled)
	if err != nil {
		return fmt.Errorf("execution: place replacement stop: %w", err)
	}
	e.osm.Position.StopOrderID = newOID
	e.osm.Position.StopPlacedAt = time.Now().UTC()
	metrics.StopOrdersPlaced.WithLabelValues(e.cfg.PairID, reason).Inc()
	e.log.Info().Str("new_stop_order_id", newOID).Msg("stop replaced")
	return e.persist()
}

// Position returns a snapshot of the current position, or nil if none.
func (e *Engine) Position() *position.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.osm.Position == nil {
		return nil
	}
	cp := *e.osm.Position
	return &cp
}
