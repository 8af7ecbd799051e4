package exchanges

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Extended publishes snapshots of every market on its public stream
// endpoint; each frame carries the full market list.

type extendedMessage struct {
	Type string `json:"type"`
	Data []struct {
		Name        string `json:"name"`
		MarketStats struct {
			MarkPrice        string `json:"markPrice"`
			IndexPrice       string `json:"indexPrice"`
			LastPrice        string `json:"lastPrice"`
			FundingRate      string `json:"fundingRate"`
			NextFundingRate  int64  `json:"nextFundingRate"`
			OpenInterest     string `json:"openInterest"`
			DailyVolume      string `json:"dailyVolume"`
			DailyVolumeBase  string `json:"dailyVolumeBase"`
			DailyPriceChange string `json:"dailyPriceChangePercentage"`
			DailyLow         string `json:"dailyLow"`
			DailyHigh        string `json:"dailyHigh"`
		} `json:"marketStats"`
	} `json:"data"`
}

func NewExtended(log zerolog.Logger) Adapter {
	return newWSAdapter(wsVenue{
		name:             "extended",
		url:              "wss://api.extended.exchange/stream.extended.exchange/v1/markets",
		snapshotInterval: 15 * time.Second,
		subscribeMessages: func() [][]byte {
			return nil // endpoint streams without an explicit subscribe
		},
		handleMessage: handleExtended,
	}, log)
}

func handleExtended(msg []byte, emit func(domain.RawTick)) error {
	var m extendedMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	for _, mk := range m.Data {
		st := mk.MarketStats
		t := newTick("extended", mk.Name)
		t.MarkPrice = orZero(st.MarkPrice)
		t.IndexPrice = orZero(st.IndexPrice)
		t.LastPrice = orZero(st.LastPrice)
		t.FundingRate = orZero(st.FundingRate)
		t.OpenInterest = orZero(st.OpenInterest)
		t.OpenInterestUSD = mulStrings(st.OpenInterest, st.MarkPrice)
		t.QuoteVolume24h = asFloat(st.DailyVolume)
		t.Volume24h = asFloat(st.DailyVolumeBase)
		t.PriceChange24h = asFloat(st.DailyPriceChange)
		t.Low24h = asFloat(st.DailyLow)
		t.High24h = asFloat(st.DailyHigh)
		if st.NextFundingRate > 0 {
			at := st.NextFundingRate
			t.NextFundingAt = &at
		}
		if usable(t) {
			emit(t)
		}
	}
	return nil
}
