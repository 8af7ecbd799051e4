package exchanges

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Jupiter needs two steps: the pools list gives the tradable perp
// markets, then each pool's stats are fetched per symbol. The pool list
// changes rarely, so it sits behind the instrument cache.

const jupiterBaseURL = "https://perps-api.jup.ag/v1"

type jupiterPools struct {
	Pools []struct {
		Symbol string `json:"symbol"`
		Active bool   `json:"active"`
	} `json:"pools"`
}

type jupiterPoolStats struct {
	MarkPrice    float64 `json:"markPrice"`
	IndexPrice   float64 `json:"oraclePrice"`
	FundingRate  float64 `json:"hourlyBorrowRate"`
	OpenInterest float64 `json:"openInterest"`
	VolumeUSD24h float64 `json:"volume24h"`
}

type jupiterAdapter struct {
	instruments *instrumentCache
}

func NewJupiter(log zerolog.Logger) Adapter {
	j := &jupiterAdapter{}
	j.instruments = newInstrumentCache(j.fetchPools)
	return newPullAdapter(pullVenue{
		name:             "jupiter",
		pollInterval:     60 * time.Second,
		snapshotInterval: 60 * time.Second,
		poll:             j.poll,
	}, log)
}

func (j *jupiterAdapter) fetchPools(ctx context.Context, client *http.Client) ([]string, error) {
	var resp jupiterPools
	if err := getJSON(ctx, client, jupiterBaseURL+"/pools", &resp); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(resp.Pools))
	for _, p := range resp.Pools {
		if p.Active {
			symbols = append(symbols, p.Symbol)
		}
	}
	return symbols, nil
}

func (j *jupiterAdapter) poll(ctx context.Context, client *http.Client) ([]domain.RawTick, error) {
	symbols, err := j.instruments.get(ctx, client)
	if err != nil {
		return nil, err
	}

	ticks := make([]domain.RawTick, 0, len(symbols))
	for _, sym := range symbols {
		var st jupiterPoolStats
		url := fmt.Sprintf("%s/pools/%s/stats", jupiterBaseURL, sym)
		if err := getJSON(ctx, client, url, &st); err != nil {
			return nil, err
		}
		t := newTick("jupiter", sym)
		t.MarkPrice = floatString(st.MarkPrice)
		t.IndexPrice = floatString(st.IndexPrice)
		t.LastPrice = floatString(st.MarkPrice)
		t.FundingRate = floatString(st.FundingRate)
		t.OpenInterest = floatString(st.OpenInterest)
		t.OpenInterestUSD = mulStrings(t.OpenInterest, t.MarkPrice)
		t.QuoteVolume24h = st.VolumeUSD24h
		if usable(t) {
			ticks = append(ticks, t)
		}
	}
	return ticks, nil
}

func floatString(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
