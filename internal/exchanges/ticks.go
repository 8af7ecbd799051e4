package exchanges

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/perptrack/internal/domain"
)

// newTick builds a RawTick skeleton with every numeric-string field at its
// "0" default, so venues only fill what they actually report.
func newTick(exchange, symbol string) domain.RawTick {
	now := time.Now().UnixMilli()
	return domain.RawTick{
		Exchange:        exchange,
		Symbol:          symbol,
		MarkPrice:       "0",
		IndexPrice:      "0",
		LastPrice:       "0",
		OpenInterest:    "0",
		OpenInterestUSD: "0",
		FundingRate:     "0",
		RecordedAt:      now,
		CreatedAt:       now / 1000,
	}
}

// orZero keeps a venue string field, defaulting blanks to "0".
func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// asFloat parses a venue numeric string, 0 on failure.
func asFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// mulStrings multiplies two decimal strings, "0" when either is unparsable.
func mulStrings(a, b string) string {
	da, err := decimal.NewFromString(a)
	if err != nil {
		return "0"
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		return "0"
	}
	return da.Mul(db).String()
}

// usable rejects ticks the filtering policy drops: missing symbol or
// missing mark price.
func usable(t domain.RawTick) bool {
	return t.Symbol != "" && t.MarkPrice != "" && t.MarkPrice != "0"
}
