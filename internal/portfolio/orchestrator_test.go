package portfolio

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/tstopd/internal/execution"
	"github.com/chidi150c/tstopd/internal/store"
	"github.com/chidi150c/tstopd/internal/venue"
)

func newOrchestrator(t *testing.T, pairs ...string) (*Orchestrator, map[string]*venue.InMemoryAdapter) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orch.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := NewManager(DefaultConfig(dm("100000")))
	o := NewOrchestrator(m, zerolog.Nop())
	adapters := make(map[string]*venue.InMemoryAdapter)

	for _, p := range pairs {
		adapter := venue.NewInMemoryAdapter()
		adapters[p] = adapter
		engine := execution.New(execution.Config{
			PairID:             p,
			ProductID:          p,
			TrailPct:           dm("0.02"),
			StopLimitBufferPct: dm("0.005"),
			MinRatchet:         dm("0"),
			AggressiveDelta:    dm("0.001"),
		}, adapter, st, zerolog.Nop())
		require.NoError(t, o.RegisterPair(PairConfig{
			ProductID:       p,
			Enabled:         true,
			PositionSizePct: dm("2"),
			TrailPct:        dm("0.02"),
		}, engine))
	}
	return o, adapters
}

func TestSubmitCoordinatedEntries_PlacesAllWithinConcurrencyLimit(t *testing.T) {
	o, _ := newOrchestrator(t, "BTC-USD", "ETH-USD")
	entries := map[string]EntryParams{
		"BTC-USD": {Price: dm("100"), Qty: dm("1")},
		"ETH-USD": {Price: dm("50"), Qty: dm("2")},
	}

	orderIDs, errs := o.SubmitCoordinatedEntries(context.Background(), entries, 1)
	require.Empty(t, errs)
	require.Len(t, orderIDs, 2)
}

func TestSubmitCoordinatedEntries_RefusesWhenRiskLimitsViolated(t *testing.T) {
	o, _ := newOrchestrator(t, "BTC-USD")
	// First entry deploys far past the 5% per-position cap.
	_, errs := o.SubmitCoordinatedEntries(context.Background(), map[string]EntryParams{
		"BTC-USD": {Price: dm("50000"), Qty: dm("1")},
	}, 1)
	require.Empty(t, errs)

	_, errs = o.SubmitCoordinatedEntries(context.Background(), map[string]EntryParams{
		"BTC-USD": {Price: dm("100"), Qty: dm("1")},
	}, 1)
	require.NotEmpty(t, errs)
}

func TestOnTrade_RoutesToOwningEngineOnly(t *testing.T) {
	o, _ := newOrchestrator(t, "BTC-USD", "ETH-USD")
	_, errs := o.SubmitCoordinatedEntries(context.Background(), map[string]EntryParams{
		"BTC-USD": {Price: dm("100"), Qty: dm("1")},
	}, 1)
	require.Empty(t, errs)

	require.NoError(t, o.OnTrade(context.Background(), "ETH-USD", dm("60")))
	require.NoError(t, o.OnTrade(context.Background(), "BTC-USD", dm("110")))
}

func TestEmergencyLiquidatePair_ClosesAndReturnsRealizedPnL(t *testing.T) {
	o, _ := newOrchestrator(t, "BTC-USD")
	_, errs := o.SubmitCoordinatedEntries(context.Background(), map[string]EntryParams{
		"BTC-USD": {Price: dm("100"), Qty: dm("1")},
	}, 1)
	require.Empty(t, errs)

	pnl, err := o.EmergencyLiquidatePair(context.Background(), "BTC-USD", dm("90"))
	require.NoError(t, err)
	require.True(t, pnl.Equal(dm("-10")))

	_, _, found := o.manager.PositionByProduct("BTC-USD")
	require.False(t, found)
}

func TestGetStatus_ReportsRegisteredPairs(t *testing.T) {
	o, _ := newOrchestrator(t, "BTC-USD", "ETH-USD")
	status := o.GetStatus()
	require.Equal(t, 2, status.PairsRegistered)
}
