package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// P6: within any window, the governor admits at most requests_per_window.
func TestGovernor_AdmitsAtMostQuotaPerWindow(t *testing.T) {
	g := New(map[string]Quota{
		EndpointDefault: {RequestsPerWindow: 3, WindowSeconds: 1},
	})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	g.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		require.True(t, g.IsAllowed(EndpointDefault))
		g.RecordRequest(EndpointDefault)
	}
	require.False(t, g.IsAllowed(EndpointDefault))

	clock = base.Add(1100 * time.Millisecond)
	require.True(t, g.IsAllowed(EndpointDefault))
}

func TestGovernor_TimeUntilAllowed(t *testing.T) {
	g := New(map[string]Quota{
		EndpointDefault: {RequestsPerWindow: 1, WindowSeconds: 1},
	})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	g.now = func() time.Time { return clock }

	require.Equal(t, time.Duration(0), g.TimeUntilAllowed(EndpointDefault))
	g.RecordRequest(EndpointDefault)
	wait := g.TimeUntilAllowed(EndpointDefault)
	require.True(t, wait > 0 && wait <= time.Second)
}

func TestGovernor_WaitIfNeededTimesOut(t *testing.T) {
	g := New(map[string]Quota{
		EndpointDefault: {RequestsPerWindow: 1, WindowSeconds: 10},
	})
	ctx := context.Background()
	require.True(t, g.WaitIfNeeded(ctx, EndpointDefault, time.Second))
	require.False(t, g.WaitIfNeeded(ctx, EndpointDefault, 10*time.Millisecond))
}

func TestGovernor_DefaultQuotas(t *testing.T) {
	g := New(nil)
	require.True(t, g.IsAllowed(EndpointOrders))
	require.True(t, g.IsAllowed(EndpointDefault))
}
