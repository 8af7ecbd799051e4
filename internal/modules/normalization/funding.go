package normalization

import (
	"github.com/shopspring/decimal"
)

// FundingInterval describes how one venue pays funding. This table is the
// single place where these constants live; the aggregation engine and the
// materializer both read it.
type FundingInterval struct {
	Hours int
	// ReportsHourly marks venues whose API already returns the per-hour
	// rate. Their interval is 1 and no rescaling is applied.
	ReportsHourly bool
}

// fundingIntervals maps exchange id -> funding payment interval.
var fundingIntervals = map[string]FundingInterval{
	"hyperliquid": {Hours: 1, ReportsHourly: true},
	"drift":       {Hours: 1, ReportsHourly: true},
	"dydx":        {Hours: 1},
	"paradex":     {Hours: 8},
	"extended":    {Hours: 1},
	"lighter":     {Hours: 8},
	"edgex":       {Hours: 4},
	"jupiter":     {Hours: 1},
	"gmx":         {Hours: 1},
	"vertex":      {Hours: 1},
	"orderly":     {Hours: 8},
	"apex":        {Hours: 1},
	"ostium":      {Hours: 1},
}

// IntervalFor returns the funding interval for an exchange. Unknown venues
// get a 1 hour interval, which leaves the reported rate untouched.
func IntervalFor(exchange string) FundingInterval {
	if iv, ok := fundingIntervals[exchange]; ok {
		return iv
	}
	return FundingInterval{Hours: 1}
}

// Exchanges returns the ids of all venues in the interval table.
func Exchanges() []string {
	out := make([]string, 0, len(fundingIntervals))
	for ex := range fundingIntervals {
		out = append(out, ex)
	}
	return out
}

// FundingViews holds the three stored views of one funding rate.
type FundingViews struct {
	Rate   string  // exactly what the venue reported
	Hourly string  // rate / interval hours
	Annual float64 // hourly * 24 * 365 * 100, percent
}

var (
	hoursPerYear = decimal.NewFromInt(24 * 365)
	hundred      = decimal.NewFromInt(100)
)

// NormalizeFunding computes the hourly and annualized views of a raw venue
// funding rate. The input must already have passed decimal validation; a
// malformed rate yields zero views.
func NormalizeFunding(exchange, rate string) FundingViews {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return FundingViews{Rate: "0", Hourly: "0", Annual: 0}
	}

	iv := IntervalFor(exchange)
	hourly := d
	if !iv.ReportsHourly && iv.Hours > 1 {
		hourly = d.Div(decimal.NewFromInt(int64(iv.Hours)))
	}

	annual, _ := hourly.Mul(hoursPerYear).Mul(hundred).Float64()

	return FundingViews{
		Rate:   rate,
		Hourly: hourly.String(),
		Annual: annual,
	}
}

// AnnualizeAverage converts an averaged raw funding rate (float, as stored
// in aggregate rows) to an annualized percentage using the venue's interval.
func AnnualizeAverage(exchange string, avgRate float64) float64 {
	iv := IntervalFor(exchange)
	hourly := avgRate
	if !iv.ReportsHourly && iv.Hours > 1 {
		hourly = avgRate / float64(iv.Hours)
	}
	return hourly * 24 * 365 * 100
}
