package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	reconcileCalls int32
	onTradeCalls   int32
	timeoutCalls   int32
	onTradeErr     error
}

func (f *fakeEngine) StartupReconcile(ctx context.Context) error {
	atomic.AddInt32(&f.reconcileCalls, 1)
	return nil
}

func (f *fakeEngine) OnTrade(ctx context.Context, productID string, lastPrice decimal.Decimal) error {
	atomic.AddInt32(&f.onTradeCalls, 1)
	return f.onTradeErr
}

func (f *fakeEngine) HandleStopTimeouts(ctx context.Context) error {
	atomic.AddInt32(&f.timeoutCalls, 1)
	return nil
}

type queueTradeSource struct {
	mu     sync.Mutex
	prices []decimal.Decimal
	idx    int
}

func (q *queueTradeSource) Next(ctx context.Context) (string, decimal.Decimal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.idx >= len(q.prices) {
		<-ctx.Done()
		return "", decimal.Zero, false
	}
	p := q.prices[q.idx]
	q.idx++
	return "BTC-USD", p, true
}

func TestRun_PerformsStartupReconcileBeforeLoops(t *testing.T) {
	engine := &fakeEngine{}
	trades := &queueTradeSource{prices: []decimal.Decimal{decimal.NewFromInt(100)}}
	r := New(Config{ReconcileInterval: time.Hour, StopTimeoutInterval: time.Hour}, engine, trades, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, atomic.LoadInt32(&engine.reconcileCalls), int32(1))
	require.GreaterOrEqual(t, atomic.LoadInt32(&engine.onTradeCalls), int32(1))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	engine := &fakeEngine{}
	trades := &queueTradeSource{}
	r := New(DefaultConfig(), engine, trades, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
