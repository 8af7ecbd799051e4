package exchanges

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// Ostium lists every pair with its live funding numbers in one call.
// Pairs arrive split in from/to legs ("BTC"/"USD").

const ostiumPairsURL = "https://metadata-backend.ostium.io/PairsDetails"

type ostiumPair struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Price        string `json:"price"`
	MidPrice     string `json:"mid"`
	FundingRate  string `json:"fundingRate"`
	LongOI       string `json:"longOI"`
	ShortOI      string `json:"shortOI"`
	VolumeUSD24h string `json:"volume24h"`
	IsMarketOpen bool   `json:"isMarketOpen"`
}

func NewOstium(log zerolog.Logger) Adapter {
	return newPullAdapter(pullVenue{
		name:             "ostium",
		pollInterval:     60 * time.Second,
		snapshotInterval: 60 * time.Second,
		poll:             pollOstium,
	}, log)
}

func pollOstium(ctx context.Context, client *http.Client) ([]domain.RawTick, error) {
	var pairs []ostiumPair
	if err := getJSON(ctx, client, ostiumPairsURL, &pairs); err != nil {
		return nil, err
	}

	ticks := make([]domain.RawTick, 0, len(pairs))
	for _, p := range pairs {
		if !p.IsMarketOpen || p.From == "" {
			continue
		}
		symbol := p.From
		if p.To != "" && p.To != "USD" {
			symbol = p.From + "-" + p.To
		}
		t := newTick("ostium", symbol)
		t.MarkPrice = orZero(p.Price)
		t.IndexPrice = orZero(p.MidPrice)
		t.LastPrice = orZero(p.Price)
		t.FundingRate = orZero(p.FundingRate)
		oi := asFloat(p.LongOI) + asFloat(p.ShortOI)
		t.OpenInterest = floatString(oi)
		t.OpenInterestUSD = mulStrings(t.OpenInterest, t.MarkPrice)
		t.QuoteVolume24h = asFloat(p.VolumeUSD24h)
		if usable(t) {
			ticks = append(ticks, t)
		}
	}
	return ticks, nil
}
