package exchanges

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Hyperliquid streams every perp on a single webData2 channel: the meta
// universe lists coins in the same order the asset contexts arrive in.
// Funding is reported per hour.

type hyperliquidMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Meta struct {
			Universe []struct {
				Name       string `json:"name"`
				IsDelisted bool   `json:"isDelisted"`
			} `json:"universe"`
		} `json:"meta"`
		AssetCtxs []struct {
			MarkPx       string `json:"markPx"`
			OraclePx     string `json:"oraclePx"`
			MidPx        string `json:"midPx"`
			Funding      string `json:"funding"`
			OpenInterest string `json:"openInterest"`
			DayNtlVlm    string `json:"dayNtlVlm"`
			PrevDayPx    string `json:"prevDayPx"`
		} `json:"assetCtxs"`
	} `json:"data"`
}

func NewHyperliquid(log zerolog.Logger) Adapter {
	return newWSAdapter(wsVenue{
		name:             "hyperliquid",
		url:              "wss://api.hyperliquid.xyz/ws",
		snapshotInterval: 15 * time.Second,
		subscribeMessages: func() [][]byte {
			return [][]byte{
				[]byte(`{"method":"subscribe","subscription":{"type":"webData2","user":"0x0000000000000000000000000000000000000000"}}`),
			}
		},
		keepalivePayload: []byte(`{"method":"ping"}`),
		handleMessage:    handleHyperliquid,
	}, log)
}

func handleHyperliquid(msg []byte, emit func(domain.RawTick)) error {
	var m hyperliquidMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	if m.Channel != "webData2" {
		return nil
	}
	universe := m.Data.Meta.Universe
	for i, ctx := range m.Data.AssetCtxs {
		if i >= len(universe) || universe[i].IsDelisted {
			continue
		}
		t := newTick("hyperliquid", universe[i].Name)
		t.MarkPrice = orZero(ctx.MarkPx)
		t.IndexPrice = orZero(ctx.OraclePx)
		t.LastPrice = orZero(ctx.MidPx)
		t.FundingRate = orZero(ctx.Funding)
		t.OpenInterest = orZero(ctx.OpenInterest)
		t.OpenInterestUSD = mulStrings(ctx.OpenInterest, ctx.MarkPx)
		t.QuoteVolume24h = asFloat(ctx.DayNtlVlm)
		if prev := asFloat(ctx.PrevDayPx); prev > 0 {
			t.PriceChange24h = (asFloat(ctx.MarkPx) - prev) / prev * 100
		}
		if usable(t) {
			emit(t)
		}
	}
	return nil
}
