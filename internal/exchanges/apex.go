package exchanges

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// ApeX takes two steps: the symbols config lists tradable perps (cached)
// and each poll round fetches one ticker per symbol.

const apexBaseURL = "https://omni.apex.exchange/api/v3"

type apexSymbols struct {
	Data struct {
		ContractConfig struct {
			PerpetualContract []struct {
				Symbol      string `json:"symbol"`
				EnableTrade bool   `json:"enableTrade"`
			} `json:"perpetualContract"`
		} `json:"contractConfig"`
	} `json:"data"`
}

type apexTicker struct {
	Data []struct {
		Symbol         string `json:"symbol"`
		MarkPrice      string `json:"markPrice"`
		IndexPrice     string `json:"indexPrice"`
		LastPrice      string `json:"lastPrice"`
		FundingRate    string `json:"fundingRate"`
		NextFundingAt  string `json:"nextFundingTime"`
		OpenInterest   string `json:"openInterest"`
		Turnover24h    string `json:"turnover24h"`
		Volume24h      string `json:"volume24h"`
		PriceChange24h string `json:"price24hPcnt"`
		Low24h         string `json:"lowPrice24h"`
		High24h        string `json:"highPrice24h"`
	} `json:"data"`
}

type apexAdapter struct {
	instruments *instrumentCache
}

func NewApex(log zerolog.Logger) Adapter {
	a := &apexAdapter{}
	a.instruments = newInstrumentCache(a.fetchSymbols)
	return newPullAdapter(pullVenue{
		name:             "apex",
		pollInterval:     15 * time.Second,
		snapshotInterval: 15 * time.Second,
		poll:             a.poll,
	}, log)
}

func (a *apexAdapter) fetchSymbols(ctx context.Context, client *http.Client) ([]string, error) {
	var resp apexSymbols
	if err := getJSON(ctx, client, apexBaseURL+"/symbols", &resp); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(resp.Data.ContractConfig.PerpetualContract))
	for _, c := range resp.Data.ContractConfig.PerpetualContract {
		if c.EnableTrade {
			symbols = append(symbols, c.Symbol)
		}
	}
	return symbols, nil
}

func (a *apexAdapter) poll(ctx context.Context, client *http.Client) ([]domain.RawTick, error) {
	symbols, err := a.instruments.get(ctx, client)
	if err != nil {
		return nil, err
	}

	ticks := make([]domain.RawTick, 0, len(symbols))
	for _, sym := range symbols {
		var resp apexTicker
		url := fmt.Sprintf("%s/ticker?symbol=%s", apexBaseURL, sym)
		if err := getJSON(ctx, client, url, &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.Data {
			t := newTick("apex", d.Symbol)
			t.MarkPrice = orZero(d.MarkPrice)
			t.IndexPrice = orZero(d.IndexPrice)
			t.LastPrice = orZero(d.LastPrice)
			t.FundingRate = orZero(d.FundingRate)
			t.OpenInterest = orZero(d.OpenInterest)
			t.OpenInterestUSD = mulStrings(d.OpenInterest, d.MarkPrice)
			t.QuoteVolume24h = asFloat(d.Turnover24h)
			t.Volume24h = asFloat(d.Volume24h)
			t.PriceChange24h = asFloat(d.PriceChange24h) * 100
			t.Low24h = asFloat(d.Low24h)
			t.High24h = asFloat(d.High24h)
			if at := int64(asFloat(d.NextFundingAt)); at > 0 {
				t.NextFundingAt = &at
			}
			if usable(t) {
				ticks = append(ticks, t)
			}
		}
	}
	return ticks, nil
}
