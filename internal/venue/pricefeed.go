package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceFeed polls each configured product's public ticker endpoint on a
// fixed interval and yields the last trade price, round-robin across
// products. Grounded in chidi150c-coinbase/live.go's polling loop (a
// time.Ticker driving trader.broker.GetRecentCandles); tstopd has no
// streaming market-data requirement, so a poll loop over the public
// ticker endpoint on the same base URL the signed Client talks to stands
// in for a websocket feed.
type PriceFeed struct {
	http       *resty.Client
	productIDs []string
	interval   time.Duration
	log        zerolog.Logger
	idx        int
}

// NewPriceFeed constructs a PriceFeed over the given base URL and product
// IDs, polling each every interval.
func NewPriceFeed(baseURL string, productIDs []string, interval time.Duration, log zerolog.Logger) *PriceFeed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PriceFeed{
		http:       resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		productIDs: productIDs,
		interval:   interval,
		log:        log,
	}
}

type tickerResponse struct {
	Price string `json:"price"`
}

// Next implements runtime.TradeSource: it sleeps interval/len(productIDs),
// then polls the next product's ticker in round-robin order. It returns
// ok=false only when ctx is cancelled.
func (f *PriceFeed) Next(ctx context.Context) (productID string, price decimal.Decimal, ok bool) {
	if len(f.productIDs) == 0 {
		<-ctx.Done()
		return "", decimal.Zero, false
	}

	step := f.interval / time.Duration(len(f.productIDs))
	if step <= 0 {
		step = f.interval
	}
	timer := time.NewTimer(step)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", decimal.Zero, false
	case <-timer.C:
	}

	product := f.productIDs[f.idx%len(f.productIDs)]
	f.idx++

	resp, err := f.http.R().SetContext(ctx).Get(fmt.Sprintf("/products/%s/ticker", product))
	if err != nil {
		f.log.Warn().Err(err).Str("product_id", product).Msg("price feed poll failed")
		return product, decimal.Zero, true
	}
	var tr tickerResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		f.log.Warn().Err(err).Str("product_id", product).Msg("price feed decode failed")
		return product, decimal.Zero, true
	}
	p, err := decimal.NewFromString(tr.Price)
	if err != nil {
		f.log.Warn().Err(err).Str("product_id", product).Str("raw", tr.Price).Msg("price feed bad decimal")
		return product, decimal.Zero, true
	}
	return product, p, true
}
