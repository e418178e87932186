package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAdapter_PlaceAndStatus(t *testing.T) {
	a := NewInMemoryAdapter()
	ctx := context.Background()

	id, err := a.PlaceLimitBuy(ctx, "entry-1", decimal.RequireFromString("100"), decimal.RequireFromString("1"))
	require.NoError(t, err)
	require.Equal(t, "entry-1", id)

	status, err := a.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, "open", status.State)
}

func TestInMemoryAdapter_UnknownOrderStatusIsNil(t *testing.T) {
	a := NewInMemoryAdapter()
	status, err := a.GetOrderStatus(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestInMemoryAdapter_CancelUnknownReturnsFalse(t *testing.T) {
	a := NewInMemoryAdapter()
	ok, err := a.CancelOrder(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryAdapter_FillAndCancelUpdateState(t *testing.T) {
	a := NewInMemoryAdapter()
	ctx := context.Background()
	id, _ := a.PlaceStopLimit(ctx, "stop-1", decimal.Zero, decimal.Zero, decimal.Zero)

	a.Fill(id)
	status, _ := a.GetOrderStatus(ctx, id)
	require.Equal(t, "filled", status.State)

	ok, err := a.CancelOrder(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	status, _ = a.GetOrderStatus(ctx, id)
	require.Equal(t, "cancelled", status.State)
}

func TestInMemoryAdapter_PlaceErrInjection(t *testing.T) {
	a := NewInMemoryAdapter()
	a.PlaceErr = &VenueError{Status: 400, Body: "bad request"}
	_, err := a.PlaceLimitBuy(context.Background(), "", decimal.Zero, decimal.Zero)
	require.Error(t, err)

	// cleared after use
	_, err = a.PlaceLimitBuy(context.Background(), "", decimal.Zero, decimal.Zero)
	require.NoError(t, err)
}
