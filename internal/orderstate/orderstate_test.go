package orderstate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPlaceEntryThenFillCreatesPosition(t *testing.T) {
	m := New()
	m.PlaceEntry("order_123", d("50000"), d("1"))
	require.NoError(t, m.OnFill("order_123", d("0.5"), d("50010")))
	require.NotNil(t, m.Position)
	require.True(t, m.Position.EntryPrice.Equal(d("50010")))
	require.Equal(t, StatusPartiallyFilled, m.EntryOrder.Status)

	require.NoError(t, m.OnFill("order_123", d("0.5"), d("50020")))
	require.Equal(t, StatusFilled, m.EntryOrder.Status)
	// weighted average: (50010*0.5 + 50020*0.5) / 1 = 50015
	require.True(t, m.Position.EntryPrice.Equal(d("50015")))
	require.True(t, m.Position.QtyFilled.Equal(d("1")))
}

func TestOnFillUnknownOrderID(t *testing.T) {
	m := New()
	m.PlaceEntry("order_123", d("50000"), d("1"))
	err := m.OnFill("order_999", d("1"), d("50000"))
	require.ErrorIs(t, err, ErrUnknownOrder)
}

func TestOnTradeNoPosition(t *testing.T) {
	m := New()
	changed, trigger, limit := m.OnTrade(d("100"), d("0.02"), d("0.005"), d("0"))
	require.False(t, changed)
	require.Nil(t, trigger)
	require.Nil(t, limit)
}

func TestOnTradeRatchets(t *testing.T) {
	m := New()
	m.PlaceEntry("order_123", d("50000"), d("1"))
	require.NoError(t, m.OnFill("order_123", d("1"), d("50000")))

	changed, trigger, limit := m.OnTrade(d("51000"), d("0.02"), d("0.005"), d("0"))
	require.True(t, changed)
	require.NotNil(t, trigger)
	require.NotNil(t, limit)
	require.True(t, limit.LessThanOrEqual(*trigger))
}

func TestStopTimeoutReplacementNeverLowersTrigger(t *testing.T) {
	m := New()
	m.PlaceEntry("order_123", d("100"), d("1"))
	require.NoError(t, m.OnFill("order_123", d("1"), d("100")))
	m.OnTrade(d("100"), d("0.02"), d("0.005"), d("0")) // initial stop trigger=98

	trigger, limit, err := m.StopTimeoutReplacement(d("0.01"), d("0.005"))
	require.NoError(t, err)
	// aggressive delta 0.01 against high=100 -> 99 > 98, so it tightens.
	require.True(t, trigger.Equal(d("99")))
	require.True(t, limit.LessThan(trigger))

	// A second, less aggressive call must not lower the trigger below 99.
	trigger2, _, err := m.StopTimeoutReplacement(d("0.5"), d("0.005"))
	require.NoError(t, err)
	require.True(t, trigger2.GreaterThanOrEqual(trigger))
}

func TestStopTimeoutReplacementNoPosition(t *testing.T) {
	m := New()
	_, _, err := m.StopTimeoutReplacement(d("0.01"), d("0.005"))
	require.Error(t, err)
}
