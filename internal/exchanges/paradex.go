package exchanges

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Paradex speaks JSON-RPC over the socket. Subscribing to
// markets_summary.ALL yields one notification per market update.

type paradexNotification struct {
	Method string `json:"method"`
	Params struct {
		Channel string         `json:"channel"`
		Data    paradexSummary `json:"data"`
	} `json:"params"`
}

type paradexSummary struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"mark_price"`
	UnderlyingPrice string `json:"underlying_price"`
	LastTradedPrice string `json:"last_traded_price"`
	FundingRate     string `json:"funding_rate"`
	OpenInterest    string `json:"open_interest"`
	Volume24h       string `json:"volume_24h"`
	PriceChange24h  string `json:"price_change_rate_24h"`
}

func NewParadex(log zerolog.Logger) Adapter {
	return newWSAdapter(wsVenue{
		name:             "paradex",
		url:              "wss://ws.api.prod.paradex.trade/v1",
		snapshotInterval: 15 * time.Second,
		subscribeMessages: func() [][]byte {
			return [][]byte{
				[]byte(`{"jsonrpc":"2.0","method":"subscribe","params":{"channel":"markets_summary.ALL"},"id":1}`),
			}
		},
		handleMessage: handleParadex,
	}, log)
}

func handleParadex(msg []byte, emit func(domain.RawTick)) error {
	var n paradexNotification
	if err := json.Unmarshal(msg, &n); err != nil {
		return err
	}
	if n.Method != "subscription" || !strings.HasPrefix(n.Params.Channel, "markets_summary") {
		return nil
	}
	s := n.Params.Data
	if s.Symbol == "" || !strings.Contains(s.Symbol, "-PERP") {
		return nil
	}
	t := newTick("paradex", s.Symbol)
	t.MarkPrice = orZero(s.MarkPrice)
	t.IndexPrice = orZero(s.UnderlyingPrice)
	t.LastPrice = orZero(s.LastTradedPrice)
	t.FundingRate = orZero(s.FundingRate)
	t.OpenInterest = orZero(s.OpenInterest)
	t.OpenInterestUSD = mulStrings(s.OpenInterest, s.MarkPrice)
	t.QuoteVolume24h = asFloat(s.Volume24h)
	t.PriceChange24h = asFloat(s.PriceChange24h) * 100
	if usable(t) {
		emit(t)
	}
	return nil
}
