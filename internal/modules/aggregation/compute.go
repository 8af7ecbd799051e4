// Package aggregation rolls raw ticks up into minute and hour aggregates and
// enforces retention on all three tiers.
package aggregation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/normalization"
)

type groupKey struct {
	exchange string
	symbol   string
	bucket   int64
}

// BuildMinuteAggregates groups raw ticks into minute buckets and computes
// one aggregate row per (exchange, symbol, bucket). Empty groups never
// occur by construction; arithmetic on the string-encoded fields goes
// through decimals, floats only appear in the stored row.
func BuildMinuteAggregates(ticks []domain.RawTick, now time.Time) []domain.Aggregate {
	groups := make(map[groupKey][]domain.RawTick)
	for _, t := range ticks {
		k := groupKey{t.Exchange, t.Symbol, domain.MinuteBucket(t.CreatedAt)}
		groups[k] = append(groups[k], t)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.exchange != b.exchange {
			return a.exchange < b.exchange
		}
		if a.symbol != b.symbol {
			return a.symbol < b.symbol
		}
		return a.bucket < b.bucket
	})

	aggs := make([]domain.Aggregate, 0, len(keys))
	for _, k := range keys {
		aggs = append(aggs, aggregateGroup(k, groups[k], now))
	}
	return aggs
}

func aggregateGroup(k groupKey, ticks []domain.RawTick, now time.Time) domain.Aggregate {
	n := decimal.NewFromInt(int64(len(ticks)))

	var (
		sumMark, sumIndex, sumOI, sumOIUSD, sumFunding decimal.Decimal
		minPrice, maxPrice                             decimal.Decimal
		maxOI, maxOIUSD                                decimal.Decimal
		minFunding, maxFunding                         decimal.Decimal
		volume, quoteVolume                            float64
	)

	for i, t := range ticks {
		mark := mustDecimal(t.MarkPrice)
		index := mustDecimal(t.IndexPrice)
		oi := mustDecimal(t.OpenInterest)
		oiUSD := mustDecimal(t.OpenInterestUSD)
		funding := mustDecimal(t.FundingRate)

		sumMark = sumMark.Add(mark)
		sumIndex = sumIndex.Add(index)
		sumOI = sumOI.Add(oi)
		sumOIUSD = sumOIUSD.Add(oiUSD)
		sumFunding = sumFunding.Add(funding)

		if i == 0 {
			minPrice, maxPrice = mark, mark
			maxOI, maxOIUSD = oi, oiUSD
			minFunding, maxFunding = funding, funding
		} else {
			if mark.LessThan(minPrice) {
				minPrice = mark
			}
			if mark.GreaterThan(maxPrice) {
				maxPrice = mark
			}
			if oi.GreaterThan(maxOI) {
				maxOI = oi
			}
			if oiUSD.GreaterThan(maxOIUSD) {
				maxOIUSD = oiUSD
			}
			if funding.LessThan(minFunding) {
				minFunding = funding
			}
			if funding.GreaterThan(maxFunding) {
				maxFunding = funding
			}
		}

		// 24h volumes are venue-reported rolling totals; the bucket keeps
		// the sum of observations.
		volume += t.Volume24h
		quoteVolume += t.QuoteVolume24h
	}

	avgMark := sumMark.Div(n)
	avgFunding := sumFunding.Div(n)

	volatility := decimal.Zero
	if !avgMark.IsZero() {
		volatility = maxPrice.Sub(minPrice).Div(avgMark).Mul(decimal.NewFromInt(100))
	}

	avgFundingF, _ := avgFunding.Float64()

	agg := domain.Aggregate{
		Exchange:             k.exchange,
		Symbol:               k.symbol,
		NormalizedSymbol:     normalization.CanonicalSymbol(k.symbol),
		Bucket:               k.bucket,
		AvgMarkPrice:         toFloat(avgMark),
		AvgIndexPrice:        toFloat(sumIndex.Div(n)),
		MinPrice:             toFloat(minPrice),
		MaxPrice:             toFloat(maxPrice),
		PriceVolatility:      toFloat(volatility),
		Volume:               volume,
		QuoteVolume:          quoteVolume,
		AvgOpenInterest:      toFloat(sumOI.Div(n)),
		MaxOpenInterest:      toFloat(maxOI),
		AvgOpenInterestUSD:   toFloat(sumOIUSD.Div(n)),
		MaxOpenInterestUSD:   toFloat(maxOIUSD),
		AvgFundingRate:       avgFundingF,
		MinFundingRate:       toFloat(minFunding),
		MaxFundingRate:       toFloat(maxFunding),
		AvgFundingRateAnnual: normalization.AnnualizeAverage(k.exchange, avgFundingF),
		SampleCount:          len(ticks),
		CreatedAt:            now.Unix(),
	}
	return agg
}

// FoldHourAggregates folds minute rows into hour rows. Price and funding
// means are weighted by sample_count; volumes and counts are summed;
// min/max are taken across the folded rows.
func FoldHourAggregates(minutes []domain.Aggregate, now time.Time) []domain.Aggregate {
	groups := make(map[groupKey][]domain.Aggregate)
	for _, m := range minutes {
		k := groupKey{m.Exchange, m.Symbol, domain.HourBucket(m.Bucket)}
		groups[k] = append(groups[k], m)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.exchange != b.exchange {
			return a.exchange < b.exchange
		}
		if a.symbol != b.symbol {
			return a.symbol < b.symbol
		}
		return a.bucket < b.bucket
	})

	out := make([]domain.Aggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, foldGroup(k, groups[k], now))
	}
	return out
}

func foldGroup(k groupKey, minutes []domain.Aggregate, now time.Time) domain.Aggregate {
	var (
		weight                                   float64
		wMark, wIndex, wOI, wOIUSD, wFunding     float64
		minPrice, maxPrice, maxOI, maxOIUSD      float64
		minFunding, maxFunding                   float64
		volume, quoteVolume                      float64
		samples                                  int
	)

	for i, m := range minutes {
		w := float64(m.SampleCount)
		weight += w
		wMark += m.AvgMarkPrice * w
		wIndex += m.AvgIndexPrice * w
		wOI += m.AvgOpenInterest * w
		wOIUSD += m.AvgOpenInterestUSD * w
		wFunding += m.AvgFundingRate * w

		if i == 0 {
			minPrice, maxPrice = m.MinPrice, m.MaxPrice
			maxOI, maxOIUSD = m.MaxOpenInterest, m.MaxOpenInterestUSD
			minFunding, maxFunding = m.MinFundingRate, m.MaxFundingRate
		} else {
			if m.MinPrice < minPrice {
				minPrice = m.MinPrice
			}
			if m.MaxPrice > maxPrice {
				maxPrice = m.MaxPrice
			}
			if m.MaxOpenInterest > maxOI {
				maxOI = m.MaxOpenInterest
			}
			if m.MaxOpenInterestUSD > maxOIUSD {
				maxOIUSD = m.MaxOpenInterestUSD
			}
			if m.MinFundingRate < minFunding {
				minFunding = m.MinFundingRate
			}
			if m.MaxFundingRate > maxFunding {
				maxFunding = m.MaxFundingRate
			}
		}

		volume += m.Volume
		quoteVolume += m.QuoteVolume
		samples += m.SampleCount
	}

	if weight == 0 {
		weight = 1
	}

	avgMark := wMark / weight
	avgFunding := wFunding / weight

	volatility := 0.0
	if avgMark != 0 {
		volatility = (maxPrice - minPrice) / avgMark * 100
	}

	return domain.Aggregate{
		Exchange:             k.exchange,
		Symbol:               k.symbol,
		NormalizedSymbol:     normalization.CanonicalSymbol(k.symbol),
		Bucket:               k.bucket,
		AvgMarkPrice:         avgMark,
		AvgIndexPrice:        wIndex / weight,
		MinPrice:             minPrice,
		MaxPrice:             maxPrice,
		PriceVolatility:      volatility,
		Volume:               volume,
		QuoteVolume:          quoteVolume,
		AvgOpenInterest:      wOI / weight,
		MaxOpenInterest:      maxOI,
		AvgOpenInterestUSD:   wOIUSD / weight,
		MaxOpenInterestUSD:   maxOIUSD,
		AvgFundingRate:       avgFunding,
		MinFundingRate:       minFunding,
		MaxFundingRate:       maxFunding,
		AvgFundingRateAnnual: normalization.AnnualizeAverage(k.exchange, avgFunding),
		SampleCount:          samples,
		CreatedAt:            now.Unix(),
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
