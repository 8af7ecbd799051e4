package exchanges

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// EdgeX broadcasts a ticker.all channel carrying every contract's
// 24h stats. Contract names arrive like "BTCUSDT".

type edgexMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Content struct {
		Data []struct {
			ContractName string `json:"contractName"`
			LastPrice    string `json:"lastPrice"`
			MarkPrice    string `json:"markPrice"`
			IndexPrice   string `json:"indexPrice"`
			FundingRate  string `json:"fundingRate"`
			FundingTime  string `json:"fundingTime"`
			OpenInterest string `json:"openInterest"`
			Value        string `json:"value"`
			Size         string `json:"size"`
			PriceChange  string `json:"priceChangePercent"`
			Low          string `json:"low"`
			High         string `json:"high"`
		} `json:"data"`
	} `json:"content"`
}

func NewEdgex(log zerolog.Logger) Adapter {
	return newWSAdapter(wsVenue{
		name:             "edgex",
		url:              "wss://quote.edgex.exchange/api/v1/public/ws",
		snapshotInterval: 15 * time.Second,
		subscribeMessages: func() [][]byte {
			return [][]byte{
				[]byte(`{"type":"subscribe","channel":"ticker.all"}`),
			}
		},
		keepalivePayload: []byte(`{"type":"ping"}`),
		handleMessage:    handleEdgex,
	}, log)
}

func handleEdgex(msg []byte, emit func(domain.RawTick)) error {
	var m edgexMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	if m.Type != "quote-event" && m.Type != "payload" {
		return nil
	}
	for _, d := range m.Content.Data {
		t := newTick("edgex", d.ContractName)
		t.MarkPrice = orZero(d.MarkPrice)
		t.IndexPrice = orZero(d.IndexPrice)
		t.LastPrice = orZero(d.LastPrice)
		t.FundingRate = orZero(d.FundingRate)
		t.OpenInterest = orZero(d.OpenInterest)
		t.OpenInterestUSD = mulStrings(d.OpenInterest, d.MarkPrice)
		t.QuoteVolume24h = asFloat(d.Value)
		t.Volume24h = asFloat(d.Size)
		t.PriceChange24h = asFloat(d.PriceChange) * 100
		t.Low24h = asFloat(d.Low)
		t.High24h = asFloat(d.High)
		if ft := int64(asFloat(d.FundingTime)); ft > 0 {
			t.NextFundingAt = &ft
		}
		if usable(t) {
			emit(t)
		}
	}
	return nil
}
