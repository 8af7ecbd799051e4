package exchanges

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Vertex serves every contract's stats in one call, keyed by ticker id
// like "BTC-PERP_USDC".

const vertexContractsURL = "https://archive.prod.vertexprotocol.com/v2/contracts"

type vertexContracts map[string]struct {
	MarkPrice    string `json:"mark_price"`
	IndexPrice   string `json:"index_price"`
	LastPrice    string `json:"last_price"`
	FundingRate  string `json:"funding_rate"`
	OpenInterest string `json:"open_interest"`
	QuoteVolume  string `json:"quote_volume"`
	BaseVolume   string `json:"base_volume"`
	PriceChange  string `json:"price_change_percent_24h"`
	NextFunding  int64  `json:"next_funding_rate_timestamp"`
}

func NewVertex(log zerolog.Logger) Adapter {
	return newPullAdapter(pullVenue{
		name:             "vertex",
		pollInterval:     15 * time.Second,
		snapshotInterval: 15 * time.Second,
		poll:             pollVertex,
	}, log)
}

func pollVertex(ctx context.Context, client *http.Client) ([]domain.RawTick, error) {
	var resp vertexContracts
	if err := getJSON(ctx, client, vertexContractsURL, &resp); err != nil {
		return nil, err
	}

	ticks := make([]domain.RawTick, 0, len(resp))
	for ticker, c := range resp {
		if !strings.Contains(ticker, "-PERP") {
			continue
		}
		symbol := ticker
		if i := strings.Index(ticker, "_"); i > 0 {
			symbol = ticker[:i]
		}
		t := newTick("vertex", symbol)
		t.MarkPrice = orZero(c.MarkPrice)
		t.IndexPrice = orZero(c.IndexPrice)
		t.LastPrice = orZero(c.LastPrice)
		t.FundingRate = orZero(c.FundingRate)
		t.OpenInterest = orZero(c.OpenInterest)
		t.OpenInterestUSD = mulStrings(c.OpenInterest, c.MarkPrice)
		t.QuoteVolume24h = asFloat(c.QuoteVolume)
		t.Volume24h = asFloat(c.BaseVolume)
		t.PriceChange24h = asFloat(c.PriceChange)
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
