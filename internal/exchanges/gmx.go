package exchanges

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// GMX exposes a markets list and a per-round tickers call. The market
// list maps token addresses to names and is cached; the tickers call
// carries the live numbers keyed by the same addresses.

const gmxBaseURL = "https://arbitrum-api.gmxinfra.io"

type gmxMarkets struct {
	Markets []struct {
		MarketToken string `json:"marketToken"`
		Name        string `json:"name"`
		IsDisabled  bool   `json:"isDisabled"`
	} `json:"markets"`
}

type gmxTicker struct {
	MarketToken     string `json:"marketToken"`
	MinPrice        string `json:"minPrice"`
	MaxPrice        string `json:"maxPrice"`
	FundingRateHour string `json:"fundingRatePerHour"`
	OpenInterestUSD string `json:"openInterestUsd"`
	VolumeUSD24h    string `json:"volumeUsd24h"`
}

type gmxAdapter struct {
	instruments *instrumentCache

	mu    sync.Mutex
	names map[string]string // marketToken -> market name
}

func NewGmx(log zerolog.Logger) Adapter {
	g := &gmxAdapter{names: map[string]string{}}
	g.instruments = newInstrumentCache(g.fetchMarkets)
	return newPullAdapter(pullVenue{
		name:             "gmx",
		pollInterval:     60 * time.Second,
		snapshotInterval: 60 * time.Second,
		poll:             g.poll,
	}, log)
}

func (g *gmxAdapter) fetchMarkets(ctx context.Context, client *http.Client) ([]string, error) {
	var resp gmxMarkets
	if err := getJSON(ctx, client, gmxBaseURL+"/markets", &resp); err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(resp.Markets))
	g.mu.Lock()
	for _, m := range resp.Markets {
		if m.IsDisabled {
			continue
		}
		g.names[m.MarketToken] = m.Name
		tokens = append(tokens, m.MarketToken)
	}
	g.mu.Unlock()
	return tokens, nil
}

func (g *gmxAdapter) poll(ctx context.Context, client *http.Client) ([]domain.RawTick, error) {
	tokens, err := g.instruments.get(ctx, client)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		active[tok] = true
	}

	var tickers []gmxTicker
	if err := getJSON(ctx, client, gmxBaseURL+"/prices/tickers", &tickers); err != nil {
		return nil, err
	}

	ticks := make([]domain.RawTick, 0, len(tickers))
	for _, tk := range tickers {
		if !active[tk.MarketToken] {
			continue
		}
		g.mu.Lock()
		name := g.names[tk.MarketToken]
		g.mu.Unlock()
		if name == "" {
			continue
		}
		t := newTick("gmx", name)
		t.MarkPrice = orZero(tk.MaxPrice)
		t.IndexPrice = orZero(tk.MinPrice)
		t.LastPrice = orZero(tk.MaxPrice)
		t.FundingRate = orZero(tk.FundingRateHour)
		t.OpenInterestUSD = orZero(tk.OpenInterestUSD)
		t.QuoteVolume24h = asFloat(tk.VolumeUSD24h)
		if usable(t) {
			ticks = append(ticks, t)
		}
	}
	return ticks, nil
}
