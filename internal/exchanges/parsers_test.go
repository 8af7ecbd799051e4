package exchanges

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/perptrack/internal/domain"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func collect(t *testing.T, handler func([]byte, func(domain.RawTick)) error, msg string) []domain.RawTick {
	t.Helper()
	var ticks []domain.RawTick
	err := handler([]byte(msg), func(tick domain.RawTick) {
		ticks = append(ticks, tick)
	})
	require.NoError(t, err)
	return ticks
}

func TestHandleHyperliquid(t *testing.T) {
	msg := `{"channel":"webData2","data":{"meta":{"universe":[{"name":"BTC"},{"name":"OLD","isDelisted":true}]},"assetCtxs":[{"markPx":"65000.5","oraclePx":"65001","midPx":"65000","funding":"0.0000125","openInterest":"1500","dayNtlVlm":"98000000","prevDayPx":"64000"},{"markPx":"1","oraclePx":"1","midPx":"1","funding":"0","openInterest":"0","dayNtlVlm":"0","prevDayPx":"1"}]}}`

	ticks := collect(t, handleHyperliquid, msg)
	require.Len(t, ticks, 1) // delisted asset dropped

	tick := ticks[0]
	assert.Equal(t, "hyperliquid", tick.Exchange)
	assert.Equal(t, "BTC", tick.Symbol)
	assert.Equal(t, "65000.5", tick.MarkPrice)
	assert.Equal(t, "0.0000125", tick.FundingRate)
	assert.Equal(t, "97500750", tick.OpenInterestUSD)
	assert.InDelta(t, 98000000, tick.QuoteVolume24h, 0.001)
	assert.InDelta(t, 1.5633, tick.PriceChange24h, 0.001)
}

func TestHandleHyperliquidIgnoresOtherChannels(t *testing.T) {
	ticks := collect(t, handleHyperliquid, `{"channel":"subscriptionResponse","data":{}}`)
	assert.Empty(t, ticks)
}

func TestHandleDydx(t *testing.T) {
	msg := `{"type":"subscribed","channel":"v4_markets","contents":{"markets":{"BTC-USD":{"oraclePrice":"64998","nextFundingRate":"0.00001","openInterest":"820.5","volume24H":"450000000","priceChange24H":"2.1"}}}}`

	ticks := collect(t, handleDydx, msg)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, "dydx", tick.Exchange)
	assert.Equal(t, "BTC-USD", tick.Symbol)
	assert.Equal(t, "64998", tick.MarkPrice)
	assert.Equal(t, "0.00001", tick.FundingRate)
	assert.InDelta(t, 2.1, tick.PriceChange24h, 0.0001)
}

func TestHandleParadex(t *testing.T) {
	msg := `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"markets_summary.ALL","data":{"symbol":"ETH-USD-PERP","mark_price":"3200.25","underlying_price":"3200","last_traded_price":"3200.5","funding_rate":"0.00002","open_interest":"5000","volume_24h":"120000000","price_change_rate_24h":"0.013"}}}`

	ticks := collect(t, handleParadex, msg)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, "paradex", tick.Exchange)
	assert.Equal(t, "ETH-USD-PERP", tick.Symbol)
	assert.Equal(t, "3200.25", tick.MarkPrice)
	assert.InDelta(t, 1.3, tick.PriceChange24h, 0.0001)
}

func TestHandleParadexSkipsNonPerp(t *testing.T) {
	msg := `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"markets_summary.ALL","data":{"symbol":"ETH-USD-OPTION","mark_price":"12"}}}`
	assert.Empty(t, collect(t, handleParadex, msg))
}

func TestHandleLighter(t *testing.T) {
	msg := `{"type":"update/market_stats","market_stats":{"0":{"symbol":"SOL","mark_price":"145.22","index_price":"145.2","last_trade_price":"145.25","current_funding_rate":"0.0000011","open_interest":"90000","daily_quote_token_volume":34000000,"daily_base_token_volume":230000,"daily_price_change":-1.4,"daily_price_low":141.1,"daily_price_high":148.7}}}`

	ticks := collect(t, handleLighter, msg)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, "lighter", tick.Exchange)
	assert.Equal(t, "SOL", tick.Symbol)
	assert.Equal(t, "145.22", tick.MarkPrice)
	assert.InDelta(t, -1.4, tick.PriceChange24h, 0.0001)
	assert.InDelta(t, 141.1, tick.Low24h, 0.0001)
}

func TestHandleEdgex(t *testing.T) {
	msg := `{"type":"payload","channel":"ticker.all","content":{"data":[{"contractName":"BTCUSDT","lastPrice":"64990","markPrice":"64995","indexPrice":"64992","fundingRate":"0.0001","fundingTime":"1756200000000","openInterest":"1200","value":"88000000","size":"1350","priceChangePercent":"0.021","low":"63800","high":"65400"}]}}`

	ticks := collect(t, handleEdgex, msg)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, "edgex", tick.Exchange)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	require.NotNil(t, tick.NextFundingAt)
	assert.Equal(t, int64(1756200000000), *tick.NextFundingAt)
	assert.InDelta(t, 2.1, tick.PriceChange24h, 0.0001)
}

func TestHandlersDropMalformedFrames(t *testing.T) {
	handlers := map[string]func([]byte, func(domain.RawTick)) error{
		"hyperliquid": handleHyperliquid,
		"dydx":        handleDydx,
		"paradex":     handleParadex,
		"lighter":     handleLighter,
		"edgex":       handleEdgex,
	}
	for name, handler := range handlers {
		err := handler([]byte(`{not json`), func(domain.RawTick) {
			t.Fatalf("%s emitted a tick for a malformed frame", name)
		})
		assert.Error(t, err, name)
	}
}

func TestNewAllCoversEveryVenue(t *testing.T) {
	adapters := NewAll(testLogger())
	require.Len(t, adapters, 13)

	seen := map[string]Kind{}
	for _, a := range adapters {
		seen[a.Name()] = a.Kind()
	}
	for _, name := range []string{"hyperliquid", "dydx", "paradex", "extended", "lighter", "edgex"} {
		assert.Equal(t, KindSubscription, seen[name], name)
	}
	for _, name := range []string{"drift", "jupiter", "gmx", "vertex", "orderly", "apex", "ostium"} {
		assert.Equal(t, KindPull, seen[name], name)
	}
}

func TestUsableFilter(t *testing.T) {
	tick := newTick("drift", "")
	assert.False(t, usable(tick))

	tick = newTick("drift", "BTC")
	assert.False(t, usable(tick), "zero mark price is not usable")

	tick.MarkPrice = "64000"
	assert.True(t, usable(tick))
}
