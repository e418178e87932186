package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:         url,
		ProductID:       "BTC-USD",
		APIKey:          "key",
		APISecretBase64: "c2VjcmV0", // "secret"
		APIPassphrase:   "pass",
		MaxRetries:      3,
	}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsNonBase64Secret(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "http://x", APISecretBase64: "not base64!!"}, zerolog.Nop())
	require.Error(t, err)
	var se *SigningError
	require.ErrorAs(t, err, &se)
}

// S6: a 429 with a Rate-Limit-Reset header causes the client to wait until
// that timestamp and then succeed, without spending a backoff attempt.
func TestDo_HonorsRateLimitResetHeader(t *testing.T) {
	var calls int32
	reset := time.Now().Add(50 * time.Millisecond).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Rate-Limit-Reset", strconv.FormatInt(reset, 10))
			w.WriteHeader(429)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"id":"order-1"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.PlaceLimitBuy(context.Background(), "cid-1", decimal.RequireFromString("100"), decimal.RequireFromString("1"))
	require.NoError(t, err)
	require.Equal(t, "order-1", id)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// 429 with no Rate-Limit-Reset header falls back to jittered backoff and
// gives up after MaxRetries attempts with RateLimitExhaustedError.
func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		APISecretBase64:   "c2VjcmV0",
		MaxRetries:        2,
		MaxBackoffSeconds: 0.02,
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.PlaceLimitBuy(context.Background(), "cid", decimal.Zero, decimal.Zero)
	require.Error(t, err)
	var rle *RateLimitExhaustedError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, 2, rle.Attempts) // attempt 0,1 => 2 total tries
}

func TestDo_NonRetryableStatusReturnsVenueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"error":"invalid size"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.PlaceStopLimit(context.Background(), "cid", decimal.Zero, decimal.Zero, decimal.Zero)
	require.Error(t, err)
	var ve *VenueError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, 400, ve.Status)
}

func TestGetOrderStatus_NotFoundReturnsNilNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	status, err := c.GetOrderStatus(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestCancelOrder_VenueFailureReturnsFalseNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(409)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ok, err := c.CancelOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.False(t, ok)
}

// The rate-limit governor gates every call through do(); exhausting the
// default per-second quota must make a subsequent call wait rather than
// go straight to the venue.
func TestDo_ConsultsRateLimitGovernor(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(200)
		w.Write([]byte(`{"id":"order-1","status":"open"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	for i := 0; i < 15; i++ {
		_, err := c.GetOrderStatus(context.Background(), "order-1")
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := c.GetOrderStatus(context.Background(), "order-1")
	require.NoError(t, err)
	require.Greater(t, time.Since(start), time.Duration(0))
	require.Equal(t, int32(16), atomic.LoadInt32(&calls))
}

func TestSign_IsDeterministicForSameInputs(t *testing.T) {
	c := testClient(t, "http://example.invalid")
	sig1, ts1 := c.sign("POST", "/orders", `{"a":1}`)
	require.NotEmpty(t, sig1)
	require.NotEmpty(t, ts1)
}
