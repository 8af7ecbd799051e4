package exchanges

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Lighter's market_stats/all channel sends a map keyed by market id;
// each entry embeds the human symbol. Funding is the hourly rate.

type lighterMessage struct {
	Type        string                  `json:"type"`
	MarketStats map[string]lighterStats `json:"market_stats"`
}

type lighterStats struct {
	Symbol             string  `json:"symbol"`
	MarkPrice          string  `json:"mark_price"`
	IndexPrice         string  `json:"index_price"`
	LastTradePrice     string  `json:"last_trade_price"`
	CurrentFundingRate string  `json:"current_funding_rate"`
	OpenInterest       string  `json:"open_interest"`
	DailyQuoteVolume   float64 `json:"daily_quote_token_volume"`
	DailyBaseVolume    float64 `json:"daily_base_token_volume"`
	DailyPriceChange   float64 `json:"daily_price_change"`
	DailyPriceLow      float64 `json:"daily_price_low"`
	DailyPriceHigh     float64 `json:"daily_price_high"`
}

func NewLighter(log zerolog.Logger) Adapter {
	return newWSAdapter(wsVenue{
		name:             "lighter",
		url:              "wss://mainnet.zklighter.elliot.ai/stream",
		snapshotInterval: 15 * time.Second,
		subscribeMessages: func() [][]byte {
			return [][]byte{
				[]byte(`{"type":"subscribe","channel":"market_stats/all"}`),
			}
		},
		handleMessage: handleLighter,
	}, log)
}

func handleLighter(msg []byte, emit func(domain.RawTick)) error {
	var m lighterMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	if m.Type != "update/market_stats" && m.Type != "subscribed/market_stats" {
		return nil
	}
	for _, st := range m.MarketStats {
		t := newTick("lighter", st.Symbol)
		t.MarkPrice = orZero(st.MarkPrice)
		t.IndexPrice = orZero(st.IndexPrice)
		t.LastPrice = orZero(st.LastTradePrice)
		t.FundingRate = orZero(st.CurrentFundingRate)
		t.OpenInterest = orZero(st.OpenInterest)
		t.OpenInterestUSD = mulStrings(st.OpenInterest, st.MarkPrice)
		t.QuoteVolume24h = st.DailyQuoteVolume
		t.Volume24h = st.DailyBaseVolume
		t.PriceChange24h = st.DailyPriceChange
		t.Low24h = st.DailyPriceLow
		t.High24h = st.DailyPriceHigh
		if usable(t) {
			emit(t)
		}
	}
	return nil
}
