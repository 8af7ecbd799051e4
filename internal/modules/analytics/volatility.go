package analytics

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/perptrack/internal/domain"
)

const (
	atrPeriod      = 14
	bollingerLen   = 20
	bollingerWidth = 2.0 // standard deviations
)

// VolatilityMetrics are the per-market indicator values written back onto
// the latest-markets projection. A nil field means not enough history.
type VolatilityMetrics struct {
	Volatility24h  *float64 // percent, stddev/mean of minute closes
	Volatility7d   *float64 // percent, stddev/mean of hourly closes
	ATR14          *float64 // price units, over hourly candles
	BollingerWidth *float64 // (upper-lower)/middle over hourly closes
}

// ComputeVolatility derives the indicator set from one market's minute
// series (last 24h) and hourly series (last 7d), both oldest first.
func ComputeVolatility(minute, hourly []domain.Aggregate) VolatilityMetrics {
	var m VolatilityMetrics

	if v, ok := relativeStdDev(closes(minute)); ok {
		m.Volatility24h = &v
	}

	hourCloses := closes(hourly)
	if v, ok := relativeStdDev(hourCloses); ok {
		m.Volatility7d = &v
	}

	if len(hourly) > atrPeriod {
		highs := make([]float64, len(hourly))
		lows := make([]float64, len(hourly))
		for i, a := range hourly {
			highs[i] = a.MaxPrice
			lows[i] = a.MinPrice
		}
		atr := talib.Atr(highs, lows, hourCloses, atrPeriod)
		if v := atr[len(atr)-1]; v > 0 {
			m.ATR14 = &v
		}
	}

	if len(hourCloses) >= bollingerLen {
		upper, middle, lower := talib.BBands(hourCloses, bollingerLen, bollingerWidth, bollingerWidth, talib.SMA)
		last := len(hourCloses) - 1
		if middle[last] > 0 {
			width := (upper[last] - lower[last]) / middle[last]
			m.BollingerWidth = &width
		}
	}

	return m
}

func closes(aggs []domain.Aggregate) []float64 {
	out := make([]float64, len(aggs))
	for i, a := range aggs {
		out[i] = a.AvgMarkPrice
	}
	return out
}

// relativeStdDev returns stddev/mean as a percentage. Needs at least two
// samples and a positive mean.
func relativeStdDev(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	mean, std := stat.MeanStdDev(values, nil)
	if mean <= 0 {
		return 0, false
	}
	return std / mean * 100, true
}
