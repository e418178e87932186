package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rs/zerolog"

	"github.com/chidi150c/tstopd/internal/execution"
	"github.com/chidi150c/tstopd/internal/position"
)

// EntryParams is one pair's requested entry order (spec.md §4.7
// "coordinated entry").
type EntryParams struct {
	Price        decimal.Decimal
	Qty          decimal.Decimal
	StopTrigger  *decimal.Decimal
	StopLimit    *decimal.Decimal
}

// Orchestrator coordinates trading across multiple pairs, each backed by
// its own execution.Engine, against a shared Manager for admission and
// risk control.
//
// Grounded in original_source/trading/portfolio_orchestrator.py's
// MultiPairOrchestrator; asyncio.Semaphore becomes a buffered channel and
// asyncio.gather becomes a sync.WaitGroup fan-out, both idioms already
// used in 0xtitan6-polymarket-mm's engine/exchange packages.
type Orchestrator struct {
	mu      sync.Mutex
	manager *Manager
	engines map[string]*execution.Engine
	log     zerolog.Logger
}

// NewOrchestrator constructs an Orchestrator over an existing Manager.
func NewOrchestrator(manager *Manager, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		manager: manager,
		engines: make(map[string]*execution.Engine),
		log:     log,
	}
}

// RegisterPair registers a pair's config with the Manager and binds its
// execution engine.
func (o *Orchestrator) RegisterPair(pc PairConfig, engine *execution.Engine) error {
	if err := o.manager.RegisterPair(pc); err != nil {
		return err
	}
	o.mu.Lock()
	o.engines[pc.ProductID] = engine
	o.mu.Unlock()
	return nil
}

type entrySubmission struct {
	productID string
	orderID   string
	err       error
}

// SubmitCoordinatedEntries places entry orders for multiple pairs with
// bounded concurrency, after verifying no portfolio risk limit is already
// violated. Orders that fail do not abort the others; callers inspect the
// returned map and per-pair errors via the second return value.
func (o *Orchestrator) SubmitCoordinatedEntries(ctx context.Context, entriesByPair map[string]EntryParams, maxConcurrent int) (map[string]string, map[string]error) {
	orderIDs := make(map[string]string)
	errs := make(map[string]error)

	if issues := o.manager.CheckRiskLimits(); len(issues) > 0 {
		for productID := range entriesByPair {
			errs[productID] = fmt.Errorf("portfolio risk limits violated: %v", issues)
		}
		return orderIDs, errs
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)
	results := make(chan entrySubmission, len(entriesByPair))
	var wg sync.WaitGroup

	for productID, params := range entriesByPair {
		productID, params := productID, params
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- o.submitOne(ctx, productID, params)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			errs[r.productID] = r.err
			continue
		}
		orderIDs[r.productID] = r.orderID
	}
	return orderIDs, errs
}

func (o *Orchestrator) submitOne(ctx context.Context, productID string, params EntryParams) entrySubmission {
	o.mu.Lock()
	engine, ok := o.engines[productID]
	o.mu.Unlock()
	count := o.manager.ActivePositionCount()
	if !ok {
		return entrySubmission{productID: productID, err: fmt.Errorf("portfolio: no engine registered for %s", productID)}
	}

	positionID := fmt.Sprintf("%s_%d", productID, count)
	orderID, err := engine.SubmitEntry(ctx, positionID, params.Price, params.Qty)
	if err != nil {
		return entrySubmission{productID: productID, err: err}
	}

	st := &position.State{
		EntryPrice:             params.Price,
		QtyFilled:              params.Qty,
		HighestPriceSinceEntry: params.Price,
		CurrentStopTrigger:     params.StopTrigger,
		CurrentStopLimit:       params.StopLimit,
	}
	if err := o.manager.AddPosition(positionID, productID, st); err != nil {
		return entrySubmission{productID: productID, err: err}
	}
	return entrySubmission{productID: productID, orderID: orderID}
}

// OnTrade routes a trade-price update to the owning engine by product ID.
// The original's handle_price_update looked up a *position* by product
// and then passed it into engine.on_trade alongside the price — an unused
// argument the async engine's on_trade signature never consulted. That
// bug does not survive translation: this method looks up the owning
// engine directly and calls Engine.OnTrade with only the price.
func (o *Orchestrator) OnTrade(ctx context.Context, productID string, lastPrice decimal.Decimal) error {
	o.mu.Lock()
	engine, ok := o.engines[productID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	if positionID, pos, found := o.manager.PositionByProduct(productID); found {
		_ = o.manager.UpdatePosition(positionID, pos.State, lastPrice)
	}

	return engine.OnTrade(ctx, lastPrice)
}

// EmergencyLiquidatePair calls the pair engine's HandleStopTimeout and
// then closes the portfolio-level position at the given price.
// HandleStopTimeout replaces the live stop with an aggressive one only
// when that stop is older than the engine's StopTimeout; a younger stop is
// left in place. No other venue order of the pair is cancelled. A pair
// with no active portfolio position returns a zero P&L and no error.
func (o *Orchestrator) EmergencyLiquidatePair(ctx context.Context, productID string, currentPrice decimal.Decimal) (decimal.Decimal, error) {
	o.mu.Lock()
	engine, ok := o.engines[productID]
	o.mu.Unlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("portfolio: no engine registered for %s", productID)
	}

	positionID, pos, found := o.manager.PositionByProduct(productID)
	if !found || pos.Status != StatusActive {
		return decimal.Zero, nil
	}

	if err := engine.HandleStopTimeout(ctx); err != nil {
		o.log.Warn().Err(err).Str("product_id", productID).Msg("emergency liquidation: stop replacement failed, closing anyway")
	}

	return o.manager.ClosePosition(positionID, currentPrice)
}

// EmergencyLiquidatePortfolio liquidates every registered pair that has a
// known current price, returning the aggregate realized P&L and count.
func (o *Orchestrator) EmergencyLiquidatePortfolio(ctx context.Context, pricesByProduct map[string]decimal.Decimal) (decimal.Decimal, int) {
	total := decimal.Zero
	closed := 0
	for productID, price := range pricesByProduct {
		_, pos, found := o.manager.PositionByProduct(productID)
		active := found && pos.Status == StatusActive
		pnl, err := o.EmergencyLiquidatePair(ctx, productID, price)
		if err != nil {
			o.log.Warn().Err(err).Str("product_id", productID).Msg("emergency liquidation failed")
			continue
		}
		if active {
			total = total.Add(pnl)
			closed++
		}
	}
	return total, closed
}

// StartupReconcile runs StartupReconcile on every registered engine,
// satisfying runtime.Engine so an Orchestrator can drive runtime.Runner
// directly across an entire portfolio rather than a single pair. A failing
// engine does not stop the pass; all failures are returned joined.
func (o *Orchestrator) StartupReconcile(ctx context.Context) error {
	o.mu.Lock()
	engines := make(map[string]*execution.Engine, len(o.engines))
	for k, v := range o.engines {
		engines[k] = v
	}
	o.mu.Unlock()

	var errs []error
	for productID, engine := range engines {
		if err := engine.StartupReconcile(ctx); err != nil {
			errs = append(errs, fmt.Errorf("portfolio: reconcile %s: %w", productID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleStopTimeouts runs HandleStopTimeout on every registered engine.
// Per-engine errors are logged and do not stop the sweep across the rest
// of the portfolio.
func (o *Orchestrator) HandleStopTimeouts(ctx context.Context) error {
	o.mu.Lock()
	engines := make(map[string]*execution.Engine, len(o.engines))
	for k, v := range o.engines {
		engines[k] = v
	}
	o.mu.Unlock()

	for productID, engine := range engines {
		if err := engine.HandleStopTimeout(ctx); err != nil {
			o.log.Error().Err(err).Str("product_id", productID).Msg("stop-timeout replacement failed")
		}
	}
	return nil
}

// Status is a rendered snapshot of the portfolio for an operator-facing
// endpoint or CLI command.
type Status struct {
	Metrics          Metrics
	RiskViolations   map[string]string
	RebalanceActions []RebalanceAction
	PairsRegistered  int
}

// GetStatus returns the current portfolio status.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	pairs := len(o.engines)
	o.mu.Unlock()
	return Status{
		Metrics:          o.manager.GetMetrics(),
		RiskViolations:   o.manager.CheckRiskLimits(),
		RebalanceActions: o.manager.GetRebalanceActions(),
		PairsRegistered:  pairs,
	}
}
