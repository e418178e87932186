// Package runtime implements the live trading loop (C8): three
// cooperating goroutines — periodic reconciliation, trade-price
// ingestion, and a stop-timeout watchdog — joined by context.Context
// cancellation, grounded in
// original_source/trading/async_event_loop.py's EventLoopRunner
// (asyncio.gather over three coroutines) translated to Go's
// sync.WaitGroup + context idiom already used by
// chidi150c-coinbase/main.go's signal.NotifyContext shutdown and
// 0xtitan6-polymarket-mm/internal/engine's goroutine+WaitGroup runner.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rs/zerolog"
)

// TradeSource yields the next trade price for a product. Implementations
// may wrap a websocket feed, a polling REST client, or (for tests) a
// canned sequence. It returns ok=false when the source is exhausted or
// ctx is done.
type TradeSource interface {
	Next(ctx context.Context) (productID string, price decimal.Decimal, ok bool)
}

// Engine is the set of methods the runtime loop needs, as provided by
// portfolio.Orchestrator; kept minimal to avoid an import cycle. A single
// execution.Engine does not satisfy it directly (its OnTrade takes no
// product ID and it has HandleStopTimeout, not HandleStopTimeouts).
type Engine interface {
	StartupReconcile(ctx context.Context) error
	OnTrade(ctx context.Context, productID string, lastPrice decimal.Decimal) error
	HandleStopTimeouts(ctx context.Context) error
}

// Config tunes the loop's cadence (spec.md §5).
type Config struct {
	ReconcileInterval  time.Duration
	StopTimeoutInterval time.Duration
}

// DefaultConfig mirrors async_event_loop.py's defaults (30s reconcile,
// 5s stop-timeout check).
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:   30 * time.Second,
		StopTimeoutInterval: 5 * time.Second,
	}
}

// Runner drives the three concurrent loops until ctx is cancelled.
type Runner struct {
	cfg    Config
	engine Engine
	trades TradeSource
	log    zerolog.Logger
}

// New constructs a Runner.
func New(cfg Config, engine Engine, trades TradeSource, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, engine: engine, trades: trades, log: log}
}

// Run performs startup reconciliation, then blocks running the three
// loops concurrently until ctx is cancelled. It returns nil on clean
// shutdown; per-iteration errors are logged, not propagated, matching
// the original's "don't fail the loop on a single bad reconcile" stance.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.engine.StartupReconcile(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); r.reconcileLoop(ctx) }()
	go func() { defer wg.Done(); r.tradeLoop(ctx) }()
	go func() { defer wg.Done(); r.stopTimeoutLoop(ctx) }()
	wg.Wait()
	return nil
}

func (r *Runner) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.engine.StartupReconcile(ctx); err != nil {
				r.log.Error().Err(err).Msg("periodic reconciliation failed")
			}
		}
	}
}

func (r *Runner) tradeLoop(ctx context.Context) {
	for {
		productID, price, ok := r.trades.Next(ctx)
		if !ok {
			return
		}
		if err := r.engine.OnTrade(ctx, productID, price); err != nil {
			r.log.Error().Err(err).Str("product_id", productID).Msg("on_trade failed")
		}
	}
}

func (r *Runner) stopTimeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.StopTimeoutInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.engine.HandleStopTimeouts(ctx); err != nil {
				r.log.Error().Err(err).Msg("stop-timeout check failed")
			}
		}
	}
}
