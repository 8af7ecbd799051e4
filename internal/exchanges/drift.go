package exchanges

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Drift's contracts endpoint returns every perp market in one call.
// Funding is published as the hourly rate.

const driftContractsURL = "https://data.api.drift.trade/contracts"

type driftContracts struct {
	Contracts []struct {
		TickerID     string `json:"ticker_id"`
		ProductType  string `json:"product_type"`
		LastPrice    string `json:"last_price"`
		IndexPrice   string `json:"index_price"`
		FundingRate  string `json:"funding_rate"`
		OpenInterest string `json:"open_interest"`
		QuoteVolume  string `json:"quote_volume"`
		BaseVolume   string `json:"base_volume"`
		Low          string `json:"low"`
		High         string `json:"high"`
		NextFunding  int64  `json:"next_funding_rate_timestamp"`
	} `json:"contracts"`
}

func NewDrift(log zerolog.Logger) Adapter {
	return newPullAdapter(pullVenue{
		name:             "drift",
		pollInterval:     15 * time.Second,
		snapshotInterval: 15 * time.Second,
		poll:             pollDrift,
	}, log)
}

func pollDrift(ctx context.Context, client *http.Client) ([]domain.RawTick, error) {
	var resp driftContracts
	if err := getJSON(ctx, client, driftContractsURL, &resp); err != nil {
		return nil, err
	}

	ticks := make([]domain.RawTick, 0, len(resp.Contracts))
	for _, c := range resp.Contracts {
		if !strings.EqualFold(c.ProductType, "PERP") {
			continue
		}
		t := newTick("drift", c.TickerID)
		t.MarkPrice = orZero(c.LastPrice)
		t.IndexPrice = orZero(c.IndexPrice)
		t.LastPrice = orZero(c.LastPrice)
		t.FundingRate = orZero(c.FundingRate)
		t.OpenInterest = orZero(c.OpenInterest)
		t.OpenInterestUSD = mulStrings(c.OpenInterest, c.LastPrice)
		t.QuoteVolume24h = asFloat(c.QuoteVolume)
		t.Volume24h = asFloat(c.BaseVolume)
		t.Low24h = asFloat(c.Low)
		t.High24h = asFloat(c.High)
		if c.NextFunding > 0 {
			at := c.NextFunding * 1000
			t.NextFundingAt = &at
		}
		if usable(t) {
			ticks = append(ticks, t)
		}
	}
	return ticks, nil
}
