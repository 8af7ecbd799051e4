package exchanges

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Orderly's public futures endpoint lists every perp with its 24h stats
// in one response. Symbols arrive as "PERP_BTC_USDC".

const orderlyFuturesURL = "https://api.orderly.org/v1/public/futures"

type orderlyFutures struct {
	Success bool `json:"success"`
	Data    struct {
		Rows []struct {
			Symbol        string  `json:"symbol"`
			MarkPrice     float64 `json:"mark_price"`
			IndexPrice    float64 `json:"index_price"`
			LastPrice     float64 `json:"24h_close"`
			FundingRate   float64 `json:"last_funding_rate"`
			OpenInterest  float64 `json:"open_interest"`
			Amount24h     float64 `json:"24h_amount"`
			Volume24h     float64 `json:"24h_volume"`
			Low24h        float64 `json:"24h_low"`
			High24h       float64 `json:"24h_high"`
			Open24h       float64 `json:"24h_open"`
			NextFundingAt int64   `json:"next_funding_time"`
		} `json:"rows"`
	} `json:"data"`
}

func NewOrderly(log zerolog.Logger) Adapter {
	return newPullAdapter(pullVenue{
		name:             "orderly",
		pollInterval:     15 * time.Second,
		snapshotInterval: 15 * time.Second,
		poll:             pollOrderly,
	}, log)
}

func pollOrderly(ctx context.Context, client *http.Client) ([]domain.RawTick, error) {
	var resp orderlyFutures
	if err := getJSON(ctx, client, orderlyFuturesURL, &resp); err != nil {
		return nil, err
	}

	ticks := make([]domain.RawTick, 0, len(resp.Data.Rows))
	for _, r := range resp.Data.Rows {
		// "PERP_BTC_USDC" -> "BTC"
		symbol := r.Symbol
		symbol = strings.TrimPrefix(symbol, "PERP_")
		if i := strings.LastIndex(symbol, "_"); i > 0 {
			symbol = symbol[:i]
		}
		t := newTick("orderly", symbol)
		t.MarkPrice = floatString(r.MarkPrice)
		t.IndexPrice = floatString(r.IndexPrice)
		t.LastPrice = floatString(r.LastPrice)
		t.FundingRate = floatString(r.FundingRate)
		t.OpenInterest = floatString(r.OpenInterest)
		t.OpenInterestUSD = mulStrings(t.OpenInterest, t.MarkPrice)
		t.QuoteVolume24h = r.Amount24h
		t.Volume24h = r.Volume24h
		t.Low24h = r.Low24h
		t.High24h = r.High24h
		if r.Open24h > 0 {
			t.PriceChange24h = (r.LastPrice - r.Open24h) / r.Open24h * 100
		}
		if r.NextFundingAt > 0 {
			at := r.NextFundingAt
			t.NextFundingAt = &at
		}
		if usable(t) {
			ticks = append(ticks, t)
		}
	}
	return ticks, nil
}
