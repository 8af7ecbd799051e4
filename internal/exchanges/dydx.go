package exchanges

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// dYdX v4 pushes the full market set on subscription and deltas after.
// Both arrive on the v4_markets channel with the same per-market shape,
// keyed by ticker (e.g. "BTC-USD").

type dydxMarket struct {
	OraclePrice     string `json:"oraclePrice"`
	NextFundingRate string `json:"nextFundingRate"`
	OpenInterest    string `json:"openInterest"`
	Volume24H       string `json:"volume24H"`
	PriceChange24H  string `json:"priceChange24H"`
}

type dydxMessage struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	Contents struct {
		Markets map[string]dydxMarket `json:"markets"`
		Trading map[string]dydxMarket `json:"trading"`
	} `json:"contents"`
}

func NewDydx(log zerolog.Logger) Adapter {
	return newWSAdapter(wsVenue{
		name:             "dydx",
		url:              "wss://indexer.dydx.trade/v4/ws",
		snapshotInterval: 15 * time.Second,
		subscribeMessages: func() [][]byte {
			return [][]byte{
				[]byte(`{"type":"subscribe","channel":"v4_markets"}`),
			}
		},
		handleMessage: handleDydx,
	}, log)
}

func handleDydx(msg []byte, emit func(domain.RawTick)) error {
	var m dydxMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	if m.Channel != "v4_markets" {
		return nil
	}
	markets := m.Contents.Markets
	if len(markets) == 0 {
		markets = m.Contents.Trading
	}
	for ticker, mk := range markets {
		t := newTick("dydx", ticker)
		t.MarkPrice = orZero(mk.OraclePrice)
		t.IndexPrice = orZero(mk.OraclePrice)
		t.FundingRate = orZero(mk.NextFundingRate)
		t.OpenInterest = orZero(mk.OpenInterest)
		t.OpenInterestUSD = mulStrings(mk.OpenInterest, mk.OraclePrice)
		t.QuoteVolume24h = asFloat(mk.Volume24H)
		t.PriceChange24h = asFloat(mk.PriceChange24H)
		if usable(t) {
			emit(t)
		}
	}
	return nil
}
